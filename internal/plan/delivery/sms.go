// Package delivery sends generated plans to the user's phone.
package delivery

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/metrics"
	"plan-generator/internal/common/validation"
)

// MaxSMSLength is the longest message SNS accepts for one SMS.
const MaxSMSLength = 1600

const channelSMS = "sms"

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSSender publishes plans as transactional SMS.
type SMSSender struct {
	client             SNSService
	senderID           string
	defaultCountryCode string
	logger             logger.Logger
}

func NewSMSSender(client SNSService, senderID, defaultCountryCode string, log logger.Logger) *SMSSender {
	return &SMSSender{
		client:             client,
		senderID:           senderID,
		defaultCountryCode: strings.TrimPrefix(defaultCountryCode, "+"),
		logger:             log,
	}
}

// SendPlan texts plan to phone and returns the SNS message id.
func (s *SMSSender) SendPlan(ctx context.Context, phone, plan string) (string, error) {
	if !validation.IsValidPhoneNumber(phone) {
		return "", apperrors.NewInvalidPhoneNumberError()
	}
	if strings.TrimSpace(plan) == "" {
		return "", apperrors.NewNoPlanToDeliverError()
	}

	to := s.toE164(phone)
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(truncate(plan, MaxSMSLength)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if s.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		metrics.PlanDeliveries.WithLabelValues(channelSMS, "failed").Inc()
		s.logger.Error("failed to send plan sms", map[string]interface{}{
			"error": err,
		})
		return "", apperrors.NewDeliveryFailedError(channelSMS, err)
	}
	metrics.PlanDeliveries.WithLabelValues(channelSMS, "sent").Inc()

	messageID := aws.ToString(out.MessageId)
	s.logger.Info("plan sms sent", map[string]interface{}{
		"messageId":  messageID,
		"planLength": len(plan),
	})
	return messageID, nil
}

// toE164 assumes the default country for bare ten-digit numbers.
func (s *SMSSender) toE164(phone string) string {
	clean := validation.CleanPhoneNumber(phone)
	switch {
	case strings.HasPrefix(clean, "+"):
		return clean
	case len(clean) == 10 && s.defaultCountryCode != "":
		return "+" + s.defaultCountryCode + clean
	default:
		return "+" + clean
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
