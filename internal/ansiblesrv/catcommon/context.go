// Package catcommon carries the values shared by every layer of the
// content server: the domain in scope, content type names and task states.
package catcommon

import (
	"context"

	"github.com/google/uuid"
)

type ctxKeyType string

const (
	ctxDomainKey ctxKeyType = "AnsibleDomain"
)

const DefaultDomainName = "default"

const DefaultConfigFile = "/etc/pulp/ansible.toml"

// DomainContext identifies the tenancy boundary a request or task runs in.
type DomainContext struct {
	DomainId uuid.UUID
	Name     string
}

// SetDomainInContext sets the domain in the provided context.
func SetDomainInContext(ctx context.Context, d *DomainContext) context.Context {
	return context.WithValue(ctx, ctxDomainKey, d)
}

// DomainFromContext retrieves the domain from the provided context.
func DomainFromContext(ctx context.Context) *DomainContext {
	if d, ok := ctx.Value(ctxDomainKey).(*DomainContext); ok {
		return d
	}
	return nil
}

// DomainIdFromContext returns uuid.Nil when no domain is set.
func DomainIdFromContext(ctx context.Context) uuid.UUID {
	if d := DomainFromContext(ctx); d != nil {
		return d.DomainId
	}
	return uuid.Nil
}
