// Package provisioning creates VPS instances at the hosting provider.
package provisioning

import "context"

// Request describes the instance to create for a paid order.
type Request struct {
	OrderID string
	Plan    string
	OSImage string
	Email   string
}

// Instance is what the provider returned for a created VPS.
type Instance struct {
	ID     string
	Status string
}

// Provisioner creates VPS instances.
type Provisioner interface {
	Create(ctx context.Context, req Request) (*Instance, error)
}
