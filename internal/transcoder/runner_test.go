package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHTTPRunner(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"accepted", http.StatusAccepted, false},
		{"ok", http.StatusOK, false},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				got, _ = io.ReadAll(r.Body)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			r := NewHTTPRunner(srv.URL, srv.Client())
			err := r.Invoke(context.Background(), []byte(`{"type":"audio"}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.JSONEq(t, `{"type":"audio"}`, string(got))
		})
	}
}

func TestHTTPRunner_Signed(t *testing.T) {
	payload := []byte(`{"type":"audio"}`)
	now := time.Unix(1700000000, 0)

	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL, srv.Client()).WithSecret("dev-secret")
	r.now = func() time.Time { return now }
	require.NoError(t, r.Invoke(context.Background(), payload))

	assert.NoError(t, Verify(header, payload, "dev-secret", now, time.Minute))
}

func TestHTTPRunner_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPRunner(url, nil).Invoke(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

type mockLambda struct {
	mock.Mock
}

func (m *mockLambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*lambda.InvokeOutput)
	return out, args.Error(1)
}

func TestLambdaRunner(t *testing.T) {
	payload := []byte(`{"type":"image"}`)

	isEvent := mock.MatchedBy(func(in *lambda.InvokeInput) bool {
		return aws.ToString(in.FunctionName) == "transcoder" &&
			in.InvocationType == lambdatypes.InvocationTypeEvent &&
			string(in.Payload) == string(payload)
	})

	t.Run("accepted", func(t *testing.T) {
		m := &mockLambda{}
		m.On("Invoke", mock.Anything, isEvent).Return(&lambda.InvokeOutput{StatusCode: 202}, nil)

		require.NoError(t, NewLambdaRunner(m, "transcoder").Invoke(context.Background(), payload))
		m.AssertExpectations(t)
	})

	t.Run("api error", func(t *testing.T) {
		m := &mockLambda{}
		m.On("Invoke", mock.Anything, isEvent).Return(nil, errors.New("throttled"))

		assert.Error(t, NewLambdaRunner(m, "transcoder").Invoke(context.Background(), payload))
	})

	t.Run("function error", func(t *testing.T) {
		m := &mockLambda{}
		m.On("Invoke", mock.Anything, isEvent).Return(&lambda.InvokeOutput{
			StatusCode:    202,
			FunctionError: aws.String("Unhandled"),
		}, nil)

		assert.Error(t, NewLambdaRunner(m, "transcoder").Invoke(context.Background(), payload))
	})
}

type fakeBroker struct {
	jobType string
	payload interface{}
	id      string
	err     error
}

func (b *fakeBroker) Enqueue(jobType string, payload interface{}) (string, error) {
	b.jobType = jobType
	b.payload = payload
	return b.id, b.err
}

func TestQueueRunner(t *testing.T) {
	b := &fakeBroker{id: "job-1"}
	r := NewQueueRunner(b, "")

	require.NoError(t, r.Invoke(context.Background(), []byte(`{"type":"audio"}`)))
	assert.Equal(t, "transcode", b.jobType)

	raw, ok := b.payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"audio"}`, string(raw))

	b.id = ""
	assert.Error(t, r.Invoke(context.Background(), []byte(`{}`)))

	b.err = errors.New("redis down")
	assert.Error(t, r.Invoke(context.Background(), []byte(`{}`)))
}

func TestQueueRunner_RedisStreams(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	r := NewQueueRunner(NewRedisBroker(client), "transcode")
	require.NoError(t, r.Invoke(context.Background(), []byte(`{"type":"audio","sourceId":"src-1"}`)))
}
