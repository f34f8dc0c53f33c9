// Package aws carries the relay channel over an SNS topic fanned out to an SQS
// queue. A custom endpoint (LocalStack) is supported for development.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/framerelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// QueuePrefix is prepended to the SQS queue subscribed to each topic.
const QueuePrefix = "framerelay-"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// account is the resolved AWS identity shared by the publisher and subscriber.
type account struct {
	cfg      aws.Config
	id       string
	region   string
	endpoint *url.URL
	topics   sns.TopicResolver
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	acct, err := resolveAccount(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("AWS relay channel configured", watermill.LogFields{
		"region":          acct.region,
		"account_id":      acct.id,
		"custom_endpoint": acct.endpoint != nil,
	})

	publisher, err := PublisherFactory(acct.publisherConfig(), logger)
	if err != nil {
		return transport.Transport{}, err
	}

	snsCfg, sqsCfg := acct.subscriberConfigs()
	subscriber, err := SubscriberFactory(snsCfg, sqsCfg, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func resolveAccount(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*account, error) {
	endpoint, err := endpointURL(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	if endpoint == nil && awsCfg.BaseEndpoint != nil && *awsCfg.BaseEndpoint != "" {
		if endpoint, err = endpointURL(*awsCfg.BaseEndpoint); err != nil {
			return nil, err
		}
	}

	id := accountID(cfg.GetAWSAccountID(), endpoint != nil)
	topics, err := TopicResolverFactory(id, awsCfg.Region)
	if err != nil {
		return nil, fmt.Errorf("aws: topic resolver: %w", err)
	}

	return &account{
		cfg:      awsCfg,
		id:       id,
		region:   awsCfg.Region,
		endpoint: endpoint,
		topics:   dotlessTopics{next: topics},
	}, nil
}

// dotlessTopics maps relay topics such as frames.batch onto valid SNS names.
type dotlessTopics struct {
	next sns.TopicResolver
}

func (r dotlessTopics) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	return r.next.ResolveTopic(ctx, strings.ReplaceAll(topic, ".", "-"))
}

// accountID trims quoting from the configured id. Against a custom endpoint an
// empty or malformed id falls back to the LocalStack account.
func accountID(raw string, customEndpoint bool) string {
	id := strings.Trim(raw, "\"' ")
	if customEndpoint && len(id) != awsAccountIDLength {
		return localstackAccountID
	}
	return id
}

func (a *account) publisherConfig() sns.PublisherConfig {
	return sns.PublisherConfig{
		TopicResolver: a.topics,
		AWSConfig:     a.cfg,
		OptFns:        a.snsOptions(),
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
}

func (a *account) subscriberConfigs() (sns.SubscriberConfig, sqs.SubscriberConfig) {
	return sns.SubscriberConfig{
			AWSConfig:            a.cfg,
			OptFns:               a.snsOptions(),
			TopicResolver:        a.topics,
			GenerateSqsQueueName: queueName,
		}, sqs.SubscriberConfig{
			AWSConfig: a.cfg,
			OptFns:    a.sqsOptions(),
		}
}

func (a *account) snsOptions() []func(*amazonsns.Options) {
	if a.endpoint == nil {
		return nil
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *a.endpoint},
		}),
	}
}

func (a *account) sqsOptions() []func(*amazonsqs.Options) {
	if a.endpoint == nil {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *a.endpoint},
		}),
	}
}

// queueName derives the SQS queue from the SNS topic name.
func queueName(ctx context.Context, topic sns.TopicArn) (string, error) {
	name, err := sns.ExtractTopicNameFromTopicArn(topic)
	if err != nil {
		return "", err
	}
	return QueuePrefix + string(name), nil
}

func endpointURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("aws: parse endpoint: %w", err)
	}
	return u, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "framerelay",
		}, nil
	})
}
