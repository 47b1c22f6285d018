package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNS rejects subjects longer than this.
const maxSubjectLength = 100

// SNSAPI is the subset of the SNS client the notifier uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes to an SNS topic.
type SNSNotifier struct {
	Client   SNSAPI
	TopicARN string
}

// NewSNSNotifier builds a client from the default AWS configuration.
func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("SNS_TOPIC_ARN is required for SNS notifications")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSNotifier{Client: sns.NewFromConfig(awsCfg), TopicARN: topicARN}, nil
}

func (s *SNSNotifier) Notify(ctx context.Context, n Notification) error {
	subject := Subject(n.Record)
	if r := []rune(subject); len(r) > maxSubjectLength {
		subject = string(r[:maxSubjectLength])
	}
	_, err := s.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(Body(n)),
	})
	if err != nil {
		return fmt.Errorf("sns publish for %s: %w", n.Record.LeadID, err)
	}
	return nil
}
