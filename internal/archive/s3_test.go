package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestCopyUploadsDownloadedAudio(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "RIFF-audio")
	}))
	defer ts.Close()

	putter := &fakePutter{}
	s := newStore(putter, "us-east-1", "songs", ts.Client())
	s.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	u, err := s.Copy(context.Background(), ts.URL+"/out.wav", "65f0c1a2b3c4d5e6f7a8b9c0")
	require.NoError(t, err)

	require.NotNil(t, putter.input)
	key := aws.ToString(putter.input.Key)
	assert.True(t, strings.HasPrefix(key, "music-generations/"), key)
	assert.True(t, strings.HasSuffix(key, "-65f0c1a2b3c4d5e6f7a8b9c0.wav"), key)
	assert.Equal(t, "songs", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "audio/wav", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "inline", aws.ToString(putter.input.ContentDisposition))
	assert.Equal(t, "RIFF-audio", putter.body)
	assert.Equal(t, "https://songs.s3.us-east-1.amazonaws.com/"+key, u)
}

func TestKeysSortByTime(t *testing.T) {
	s := newStore(&fakePutter{}, "us-east-1", "songs", nil)
	s.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	first := s.Key("g")
	s.now = func() time.Time { return time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC) }
	second := s.Key("g")
	assert.Less(t, first, second)
}

func TestCopyFailsWhenSourceUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	putter := &fakePutter{}
	s := newStore(putter, "us-east-1", "songs", ts.Client())

	_, err := s.Copy(context.Background(), ts.URL+"/gone.wav", "g")
	require.Error(t, err)
	assert.Nil(t, putter.input, "nothing uploaded")
}

func TestCopyReportsUploadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "audio")
	}))
	defer ts.Close()

	s := newStore(&fakePutter{err: errors.New("AccessDenied")}, "us-east-1", "songs", ts.Client())
	_, err := s.Copy(context.Background(), ts.URL, "g")
	assert.ErrorContains(t, err, "AccessDenied")
}
