package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nus-sys/neobft-artifact/aom"
)

// ErrAcceleratorBusy is returned by Submit when the client's request queue
// is full. The arbiter treats it like any submit failure and falls back to
// the internal hashing path.
var ErrAcceleratorBusy = errors.New("accelerator request queue full")

// HTTPAccelerator implements aom.Accelerator over the accelerator
// service's HTTP API. Requests are queued and signed by a fixed pool of
// worker goroutines; responses stream back on the Responses channel in
// completion order. A request whose HTTP call fails produces no response
// at all, which the arbiter's timeout reclaims.
type HTTPAccelerator struct {
	url       string
	client    *http.Client
	workers   int
	requests  chan aom.SignRequest
	responses chan aom.SignResponse
	log       *slog.Logger
}

// NewHTTPAccelerator creates a client for the accelerator at baseURL with
// one worker per pool slot.
func NewHTTPAccelerator(baseURL string, workers int, log *slog.Logger) *HTTPAccelerator {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPAccelerator{
		url:       baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		workers:   workers,
		requests:  make(chan aom.SignRequest, workers),
		responses: make(chan aom.SignResponse, workers),
		log:       log.With("component", "accelerator-client"),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (a *HTTPAccelerator) Start(ctx context.Context) {
	for i := 0; i < a.workers; i++ {
		go a.worker(ctx)
	}
}

// Submit implements aom.Accelerator. It never blocks the admission path:
// if all workers are busy and the queue is full it fails fast.
func (a *HTTPAccelerator) Submit(_ context.Context, req aom.SignRequest) error {
	select {
	case a.requests <- req:
		return nil
	default:
		return ErrAcceleratorBusy
	}
}

// Responses implements aom.Accelerator.
func (a *HTTPAccelerator) Responses() <-chan aom.SignResponse {
	return a.responses
}

func (a *HTTPAccelerator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			resp, err := a.sign(ctx, req)
			if err != nil {
				// No response: the arbiter's window expires the slot.
				a.log.Warn("accelerator request failed",
					"err", err, "sequence", req.Sequence, "shard", uint64(req.Shard))
				continue
			}
			select {
			case a.responses <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *HTTPAccelerator) sign(ctx context.Context, req aom.SignRequest) (aom.SignResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return aom.SignResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/sign", bytes.NewReader(body))
	if err != nil {
		return aom.SignResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return aom.SignResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return aom.SignResponse{}, fmt.Errorf("accelerator returned %d", httpResp.StatusCode)
	}

	var resp aom.SignResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return aom.SignResponse{}, fmt.Errorf("decode accelerator response: %w", err)
	}
	return resp, nil
}
