package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryHousekeeping sweeps fully consumed cost layers past retention.
	TaskInventoryHousekeeping = "inventory:housekeeping"
	// TaskInventoryIntegrity reconciles balances against the cost layer store.
	TaskInventoryIntegrity = "inventory:integrity"
	// TaskGLPost hands a completed inventory transaction to the ledger bridge.
	TaskGLPost = "gl:post"
)

// GLPostPayload carries a completed movement to the GL posting consumer.
// Quantities and costs travel as decimal strings.
type GLPostPayload struct {
	Code            string    `json:"code"`
	Type            string    `json:"type"`
	ItemID          int64     `json:"item_id"`
	CustomerID      int64     `json:"customer_id,omitempty"`
	WarehouseID     int64     `json:"warehouse_id"`
	FromWarehouseID int64     `json:"from_warehouse_id,omitempty"`
	Quantity        string    `json:"quantity"`
	UnitCost        string    `json:"unit_cost"`
	TotalCost       string    `json:"total_cost"`
	PostedAt        time.Time `json:"posted_at"`
}

// NewHousekeepingTask constructs the layer sweep task.
func NewHousekeepingTask() *asynq.Task {
	return asynq.NewTask(TaskInventoryHousekeeping, nil)
}

// NewIntegrityTask constructs the reconciliation task.
func NewIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskInventoryIntegrity, nil)
}

// NewGLPostTask constructs a ledger posting task.
func NewGLPostTask(payload GLPostPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLPost, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueGLPost enqueues a ledger posting task.
func (c *Client) EnqueueGLPost(ctx context.Context, payload GLPostPayload) error {
	task, err := NewGLPostTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
