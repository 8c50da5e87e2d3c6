package inventory

import "context"

// IntegrationHandler receives inventory events for financial integration.
type IntegrationHandler interface {
	HandleInventoryTransactionPosted(ctx context.Context, evt TransactionPostedEvent) error
}
