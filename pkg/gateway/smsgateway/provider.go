// Package smsgateway registers the pull-style gateway. The gateway polls the
// API for messages itself, so the provider is push-incompatible: selecting it
// turns the outbound dispatch paths into no-ops, which keeps a message from
// going out through two channels at once.
package smsgateway

import (
	"context"
	"errors"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/models"
)

const ProviderID = "sms-gateway"

var ErrPullOnly = errors.New("sms-gateway is a pull service and cannot be sent to")

type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) Push() bool {
	return false
}

func (p *Provider) Send(_ context.Context, _ []models.PendingMessage) ([]gateway.Result, error) {
	return nil, ErrPullOnly
}
