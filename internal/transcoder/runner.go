package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/tracing"
	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/redis/go-redis/v9"
)

// Runner hands a serialized request to a transcoder execution environment.
// Invoke returns once the request is accepted, never waiting for the result.
type Runner interface {
	Name() string
	Invoke(ctx context.Context, payload []byte) error
}

const (
	RunnerHTTP   = "http"
	RunnerLambda = "lambda"
	RunnerQueue  = "gcr"
)

// HTTPRunner posts requests to a transcoder reachable over HTTP, used in
// local development.
type HTTPRunner struct {
	url    string
	client *http.Client
	secret string
	now    func() time.Time
}

func NewHTTPRunner(url string, client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRunner{url: url, client: tracing.HTTPClient(client), now: time.Now}
}

// WithSecret makes the runner sign every request in SignatureHeader.
func (r *HTTPRunner) WithSecret(secret string) *HTTPRunner {
	r.secret = secret
	return r
}

func (r *HTTPRunner) Name() string { return RunnerHTTP }

func (r *HTTPRunner) Invoke(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, r.secret, r.now()))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to transcoder: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transcoder returned status %d", resp.StatusCode)
	}
	return nil
}

// LambdaInvoker is the subset of the lambda client used by LambdaRunner.
type LambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaRunner invokes a function asynchronously (InvocationType Event).
type LambdaRunner struct {
	client   LambdaInvoker
	function string
}

func NewLambdaRunner(client LambdaInvoker, function string) *LambdaRunner {
	return &LambdaRunner{client: client, function: function}
}

// NewLambdaRunnerForRegion builds a lambda client from the default AWS
// credential chain.
func NewLambdaRunnerForRegion(ctx context.Context, region, function string) (*LambdaRunner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewLambdaRunner(lambda.NewFromConfig(cfg), function), nil
}

func (r *LambdaRunner) Name() string { return RunnerLambda }

func (r *LambdaRunner) Invoke(ctx context.Context, payload []byte) error {
	out, err := r.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", r.function, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoke %s: function error %s", r.function, aws.ToString(out.FunctionError))
	}
	if out.StatusCode < 200 || out.StatusCode >= 300 {
		return fmt.Errorf("invoke %s: status %d", r.function, out.StatusCode)
	}
	return nil
}

// Broker enqueues a job and returns its id.
type Broker interface {
	Enqueue(jobType string, payload interface{}) (string, error)
}

type redisBroker struct {
	broker *broker.RedisStreamsBroker
}

// NewRedisBroker adapts a redis streams job broker to Broker.
func NewRedisBroker(client *redis.Client) Broker {
	return &redisBroker{broker: broker.NewRedisStreamsBroker(client)}
}

func (a *redisBroker) Enqueue(jobType string, payload interface{}) (string, error) {
	j, err := job.New(jobType, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := a.broker.Enqueue(context.Background(), j); err != nil {
		return "", err
	}
	return j.ID, nil
}

// QueueRunner pushes requests onto a task queue consumed by the container
// based transcoder.
type QueueRunner struct {
	broker  Broker
	jobType string
}

func NewQueueRunner(b Broker, jobType string) *QueueRunner {
	if jobType == "" {
		jobType = "transcode"
	}
	return &QueueRunner{broker: b, jobType: jobType}
}

func (r *QueueRunner) Name() string { return RunnerQueue }

func (r *QueueRunner) Invoke(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := r.broker.Enqueue(r.jobType, json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", r.jobType, err)
	}
	if id == "" {
		return fmt.Errorf("enqueue %s: empty job id", r.jobType)
	}
	return nil
}
