// Package aws provides an SNS/SQS pipe. Messages are published to an SNS
// topic. Every service subscribes through its own SQS queue named
// "<service>-<topic>", so the workers of one service compete for pipe
// messages while other services on the same topic get their own copy.
package aws

import (
	"context"
	"net/url"
	"strings"
	"unicode"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
	pkgerrors "github.com/pkg/errors"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "aws"

// maxQueueName is the SQS limit on queue name length.
const maxQueueName = 80

// Constructors used by Build; tests replace them.
var (
	LoadAWSConfig    = awsconfig.LoadDefaultConfig
	NewTopicResolver = sns.NewGenerateArnTopicResolver
	NewPublisher     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	NewSubscriber = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	pipe.Register(Name, Build, pipe.AWSCapabilities)
}

// Build creates an SNS/SQS pipe for the service named by cfg.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	awsCfg, err := loadConfig(ctx, cfg)
	if err != nil {
		return pipe.Pipe{}, err
	}
	endpoint, err := endpointURL(cfg.GetAWSEndpoint())
	if err != nil {
		return pipe.Pipe{}, err
	}
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	resolver, err := NewTopicResolver(accountID, awsCfg.Region)
	if err != nil {
		return pipe.Pipe{}, pkgerrors.Wrapf(err, "aws pipe: topic resolver for account %q", accountID)
	}

	snsOpts, sqsOpts := endpointOptions(endpoint)
	publisher, err := NewPublisher(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return pipe.Pipe{}, pkgerrors.Wrap(err, "aws pipe: publisher")
	}

	subscriber, err := NewSubscriber(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: queueName(cfg.GetName()),
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    sqsOpts,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return pipe.Pipe{}, pkgerrors.Wrap(err, "aws pipe: subscriber")
	}

	logger.Info("aws pipe ready", watermill.LogFields{
		"service":  cfg.GetName(),
		"region":   awsCfg.Region,
		"endpoint": cfg.GetAWSEndpoint(),
	})
	return pipe.Pipe{Publisher: publisher, Subscriber: subscriber}, nil
}

func loadConfig(ctx context.Context, cfg pipe.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := LoadAWSConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, pkgerrors.Wrap(err, "aws pipe: load config")
	}
	return awsCfg, nil
}

func endpointURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "aws pipe: endpoint")
	}
	return u, nil
}

// endpointOptions points both clients at a custom endpoint, such as a
// local emulator. A nil endpoint keeps the AWS defaults.
func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	target := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: target}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: target}),
		}
}

// queueName names the SQS queue "<service>-<topic>", keeping only the
// characters SQS accepts and the first 80 of them.
func queueName(service string) func(context.Context, sns.TopicArn) (string, error) {
	return func(_ context.Context, arn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(arn)
		if err != nil {
			return "", err
		}
		name := string(topic)
		if service != "" {
			name = service + "-" + name
		}
		name = strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
				return r
			}
			return '-'
		}, name)
		if len(name) > maxQueueName {
			name = name[:maxQueueName]
		}
		return name, nil
	}
}
