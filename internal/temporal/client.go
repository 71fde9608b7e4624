package temporal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/logger"
)

// ErrAlreadyRunning is returned when a workflow with the requested ID is
// already executing. Callers that want idempotent starts treat it as success.
var ErrAlreadyRunning = errors.New("workflow already running")

// Client wraps the Temporal client with the identity-scheme aware
// operations the rest of the service uses.
type Client struct {
	client    client.Client
	taskQueue string
	log       *logger.Logger
}

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig, log *logger.Logger) (*Client, error) {
	opts := client.Options{
		HostPort:  cfg.Address(),
		Namespace: cfg.Namespace,
		Logger:    newTemporalLogger(log.WithComponent("temporal-sdk")),
	}
	if cfg.TLSEnabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCertPath != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.ConnectionOptions = client.ConnectionOptions{TLS: tlsConfig}
	}

	c, err := client.Dial(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal at %s: %w", cfg.Address(), err)
	}

	return &Client{
		client:    c,
		taskQueue: cfg.TaskQueue,
		log:       log.WithComponent("temporal"),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Raw returns the underlying Temporal client, used by the worker.
func (c *Client) Raw() client.Client {
	return c.client
}

// TaskQueue returns the task queue workflows are dispatched to.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Start starts a workflow under the given identity. A live execution with
// the same ID yields ErrAlreadyRunning; a closed one is superseded.
func (c *Client) Start(ctx context.Context, workflowID, workflowType string, args ...interface{}) (string, error) {
	options := client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, workflowType, args...)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, workflowID)
		}
		return "", fmt.Errorf("failed to start workflow %s: %w", workflowID, err)
	}

	return run.GetRunID(), nil
}

// SignalWithStart delivers a signal to the workflow, starting it first if
// no execution is running. The signal is buffered ahead of the first
// workflow task, so it is observed before any other work happens.
func (c *Client) SignalWithStart(ctx context.Context, workflowID, signalName string, signalArg interface{}, workflowType string, args ...interface{}) (string, error) {
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}

	run, err := c.client.SignalWithStartWorkflow(ctx, workflowID, signalName, signalArg, options, workflowType, args...)
	if err != nil {
		return "", fmt.Errorf("failed to signal-with-start workflow %s: %w", workflowID, err)
	}

	return run.GetRunID(), nil
}

// Signal sends a signal to a running workflow.
func (c *Client) Signal(ctx context.Context, workflowID, signalName string, signalArg interface{}) error {
	if err := c.client.SignalWorkflow(ctx, workflowID, "", signalName, signalArg); err != nil {
		return fmt.Errorf("failed to signal workflow %s: %w", workflowID, err)
	}
	return nil
}

// Query runs a synchronous query against a running workflow and decodes
// the result into out.
func (c *Client) Query(ctx context.Context, workflowID, queryType string, out interface{}, args ...interface{}) error {
	val, err := c.client.QueryWorkflow(ctx, workflowID, "", queryType, args...)
	if err != nil {
		return fmt.Errorf("failed to query workflow %s: %w", workflowID, err)
	}
	if err := val.Get(out); err != nil {
		return fmt.Errorf("failed to decode query result from %s: %w", workflowID, err)
	}
	return nil
}

// Cancel requests cancellation of a running workflow.
func (c *Client) Cancel(ctx context.Context, workflowID string) error {
	if err := c.client.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return fmt.Errorf("failed to cancel workflow %s: %w", workflowID, err)
	}
	return nil
}

// WorkflowStatus describes an execution looked up by identity.
type WorkflowStatus struct {
	WorkflowID string     `json:"workflow_id"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// Describe returns the status of the latest execution under workflowID.
func (c *Client) Describe(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %s: %w", workflowID, err)
	}

	info := desc.WorkflowExecutionInfo
	status := &WorkflowStatus{
		WorkflowID: workflowID,
		Status:     info.Status.String(),
		StartTime:  info.StartTime.AsTime(),
	}
	if info.CloseTime != nil {
		closeTime := info.CloseTime.AsTime()
		status.EndTime = &closeTime
	}

	return status, nil
}

// IsRunning reports whether an execution is currently live under
// workflowID. A never-started or fully closed identity reports false.
func (c *Client) IsRunning(ctx context.Context, workflowID string) (bool, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe workflow %s: %w", workflowID, err)
	}
	return desc.WorkflowExecutionInfo.Status == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, nil
}

// temporalLogger adapts our logger to the Temporal SDK's logger interface.
type temporalLogger struct {
	log *logger.Logger
}

func newTemporalLogger(log *logger.Logger) *temporalLogger {
	return &temporalLogger{log: log}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.log.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.log.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.log.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.log.Error(msg, keyvals...)
}

// ListRunning returns the workflow IDs of all running executions of the
// given workflow type, paging through visibility results.
func (c *Client) ListRunning(ctx context.Context, workflowType string) ([]string, error) {
	query := fmt.Sprintf("WorkflowType = '%s' AND ExecutionStatus = 'Running'", workflowType)

	var ids []string
	var nextPageToken []byte
	for {
		resp, err := c.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
			Query:         query,
			NextPageToken: nextPageToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s workflows: %w", workflowType, err)
		}
		for _, exec := range resp.Executions {
			ids = append(ids, exec.Execution.WorkflowId)
		}
		nextPageToken = resp.NextPageToken
		if len(nextPageToken) == 0 {
			break
		}
	}

	return ids, nil
}
