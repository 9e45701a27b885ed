package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/broker"
	envConfig "github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/domain"
)

// API is the subset of the SQS client used by this package
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client represents an SQS client
type Client struct {
	api    API
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created", zap.String("region", SQSConfig.Region))

	return NewClientWithAPI(sqs.NewFromConfig(cfg, clientOpts...), SQSConfig, log), nil
}

// NewClientWithAPI creates a client over an existing SQS API implementation
func NewClientWithAPI(api API, SQSConfig envConfig.SQS, log *zap.Logger) *Client {
	return &Client{
		api:    api,
		config: SQSConfig,
		log:    log,
	}
}

// Source returns the queue consumed for the given entity kind
func (c *Client) Source(kind domain.EntityKind) (*Queue, error) {
	url := c.config.QueueURL(kind)
	if url == "" {
		return nil, fmt.Errorf("no SQS queue configured for %s", kind)
	}
	return &Queue{
		api:             c.api,
		url:             url,
		waitTimeSeconds: c.config.WaitTimeSeconds,
	}, nil
}

// Publish sends a document to the publish queue tagged with the routing key
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.PublishQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"RoutingKey": {
				DataType:    aws.String("String"),
				StringValue: aws.String(routingKey),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return nil
}

// Queue is one SQS queue consumed as a broker source
type Queue struct {
	api             API
	url             string
	waitTimeSeconds int32
}

var _ broker.Source = (*Queue)(nil)

// Name returns the queue URL
func (q *Queue) Name() string {
	return q.url
}

// Receive long-polls the queue. SQS caps a single receive at ten messages.
func (q *Queue) Receive(ctx context.Context, max int) ([]*broker.Message, error) {
	if max > 10 {
		max = 10
	}
	if max < 1 {
		max = 1
	}

	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.url),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       q.waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from SQS: %w", err)
	}

	messages := make([]*broker.Message, 0, len(out.Messages))
	for _, msg := range out.Messages {
		receipt := msg.ReceiptHandle
		messages = append(messages, broker.NewMessage(
			aws.ToString(msg.MessageId),
			[]byte(aws.ToString(msg.Body)),
			func(ctx context.Context) error { return q.delete(ctx, receipt) },
			func(ctx context.Context) error { return q.release(ctx, receipt) },
		))
	}

	return messages, nil
}

func (q *Queue) delete(ctx context.Context, receipt *string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: receipt,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// release makes the message visible again right away instead of waiting for
// the visibility timeout
func (q *Queue) release(ctx context.Context, receipt *string) error {
	_, err := q.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     receipt,
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to release message: %w", err)
	}
	return nil
}
