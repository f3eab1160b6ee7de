// Package workflow implements the workflow controller: the stateless
// orchestrator of cross-participant booking operations. Every call forwards
// the caller's transaction id to each downstream resource manager; a
// downstream failure under an active xid triggers one centralized auto-abort
// path.
package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
)

// ReservationType tags reservation rows by the inventory they consume.
type ReservationType string

const (
	ReserveFlight ReservationType = "FLIGHT"
	ReserveHotel  ReservationType = "HOTEL"
	ReserveCar    ReservationType = "CAR"
)

// RMClient is the outbound surface of one resource manager.
type RMClient interface {
	Query(ctx context.Context, xid, key string) (map[string]interface{}, error)
	Insert(ctx context.Context, xid, key string, fields map[string]interface{}) error
	Update(ctx context.Context, xid, key string, patch map[string]interface{}) error
	Delete(ctx context.Context, xid, key string) error
	Ping(ctx context.Context) error
}

// TMClient is the outbound surface of the transaction manager.
type TMClient interface {
	Start(ctx context.Context) (string, error)
	Commit(ctx context.Context, xid string) (txn.State, error)
	Abort(ctx context.Context, xid string) (txn.State, error)
	Status(ctx context.Context, xid string) (txn.State, error)
	Ping(ctx context.Context) error
}

// Clients bundles every outbound dependency of the controller.
type Clients struct {
	TM           TMClient
	Flights      RMClient
	Hotels       RMClient
	Cars         RMClient
	Customers    RMClient
	Reservations RMClient
}

// Config tunes controller policy.
type Config struct {
	// AutoAbort aborts the enclosing transaction on any downstream failure.
	AutoAbort bool
	// CommitTimeout is the client-facing budget on TM.Commit before the
	// controller surfaces IN_DOUBT.
	CommitTimeout time.Duration
}

// AbortedError wraps a downstream failure after the enclosing transaction
// was auto-aborted, so the HTTP layer can flag transaction_aborted.
type AbortedError struct {
	Cause error
}

func (e *AbortedError) Error() string { return e.Cause.Error() + " (transaction aborted)" }
func (e *AbortedError) Unwrap() error { return e.Cause }

// Controller orchestrates business verbs across the RMs under a single
// transaction id. It holds no per-request state and is safe for concurrent
// use.
type Controller struct {
	clients   Clients
	cfg       Config
	logger    *zap.Logger
	available atomic.Bool
}

// New builds a workflow controller.
func New(clients Clients, cfg Config, logger *zap.Logger) *Controller {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 15 * time.Second
	}
	c := &Controller{clients: clients, cfg: cfg, logger: logger}
	c.available.Store(true)
	return c
}

// Available reports whether the controller is serving requests. Die flips it
// off; the HTTP layer answers 503 while it is down.
func (c *Controller) Available() bool { return c.available.Load() }

// Die marks the controller unavailable. Used by failure-injection tests.
func (c *Controller) Die() { c.available.Store(false) }

// Revive restores availability after a Die.
func (c *Controller) Revive() { c.available.Store(true) }

// guard is the single auto-abort path: every downstream failure under an
// active xid funnels through it before surfacing to the caller.
func (c *Controller) guard(ctx context.Context, xid string, err error) error {
	if err == nil {
		return nil
	}
	if !c.cfg.AutoAbort || xid == "" {
		return err
	}
	c.logger.Warn("downstream failure, auto-aborting",
		zap.String("xid", xid),
		zap.Error(err))
	if _, abortErr := c.clients.TM.Abort(ctx, xid); abortErr != nil {
		c.logger.Error("auto-abort failed",
			zap.String("xid", xid),
			zap.Error(abortErr))
		return err
	}
	return &AbortedError{Cause: err}
}

// --- transaction control ---

// Start opens a new global transaction at the TM.
func (c *Controller) Start(ctx context.Context) (string, error) {
	return c.clients.TM.Start(ctx)
}

// Commit asks the TM to commit xid within the controller's client-facing
// budget. A budget overrun (or an explicit IN_DOUBT from the TM) surfaces as
// IN_DOUBT; the caller polls Status until a terminal state appears.
func (c *Controller) Commit(ctx context.Context, xid string) (txn.State, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()
	state, err := c.clients.TM.Commit(cctx, xid)
	if err != nil {
		if cctx.Err() != nil {
			c.logger.Warn("commit exceeded client budget, reporting IN_DOUBT", zap.String("xid", xid))
			return txn.StateInDoubt, nil
		}
		return "", err
	}
	return state, nil
}

// Abort aborts xid at the TM.
func (c *Controller) Abort(ctx context.Context, xid string) (txn.State, error) {
	return c.clients.TM.Abort(ctx, xid)
}

// Status reports xid's state as known by the TM.
func (c *Controller) Status(ctx context.Context, xid string) (txn.State, error) {
	return c.clients.TM.Status(ctx, xid)
}

// --- flights ---

// AddFlight creates a flight with all seats available.
func (c *Controller) AddFlight(ctx context.Context, xid, flightNum string, price, numSeats int64) error {
	return c.guard(ctx, xid, c.clients.Flights.Insert(ctx, xid, flightNum, map[string]interface{}{
		"flightNum": flightNum,
		"price":     price,
		"numSeats":  numSeats,
		"numAvail":  numSeats,
	}))
}

// DeleteFlight removes a flight.
func (c *Controller) DeleteFlight(ctx context.Context, xid, flightNum string) error {
	return c.guard(ctx, xid, c.clients.Flights.Delete(ctx, xid, flightNum))
}

// QueryFlight reads a flight visible to xid.
func (c *Controller) QueryFlight(ctx context.Context, xid, flightNum string) (map[string]interface{}, error) {
	fields, err := c.clients.Flights.Query(ctx, xid, flightNum)
	return fields, c.guard(ctx, xid, err)
}

// ReserveFlight books seats on a flight for a customer: verify the customer,
// verify availability, decrement numAvail on the flights RM, then insert the
// reservation row on the reservations RM — all under xid.
func (c *Controller) ReserveFlight(ctx context.Context, xid, custName, flightNum string, quantity int64) error {
	return c.reserve(ctx, xid, c.clients.Flights, ReserveFlight, custName, flightNum, quantity)
}

// --- hotels ---

// AddRooms creates (or registers) hotel rooms at a location.
func (c *Controller) AddRooms(ctx context.Context, xid, location string, price, numRooms int64) error {
	return c.guard(ctx, xid, c.clients.Hotels.Insert(ctx, xid, location, map[string]interface{}{
		"location": location,
		"price":    price,
		"numRooms": numRooms,
		"numAvail": numRooms,
	}))
}

// DeleteRooms removes the room inventory at a location.
func (c *Controller) DeleteRooms(ctx context.Context, xid, location string) error {
	return c.guard(ctx, xid, c.clients.Hotels.Delete(ctx, xid, location))
}

// QueryRooms reads the room inventory at a location.
func (c *Controller) QueryRooms(ctx context.Context, xid, location string) (map[string]interface{}, error) {
	fields, err := c.clients.Hotels.Query(ctx, xid, location)
	return fields, c.guard(ctx, xid, err)
}

// ReserveRoom books rooms at a location for a customer.
func (c *Controller) ReserveRoom(ctx context.Context, xid, custName, location string, quantity int64) error {
	return c.reserve(ctx, xid, c.clients.Hotels, ReserveHotel, custName, location, quantity)
}

// --- cars ---

// AddCars creates (or registers) rental cars at a location.
func (c *Controller) AddCars(ctx context.Context, xid, location string, price, numCars int64) error {
	return c.guard(ctx, xid, c.clients.Cars.Insert(ctx, xid, location, map[string]interface{}{
		"location": location,
		"price":    price,
		"numCars":  numCars,
		"numAvail": numCars,
	}))
}

// DeleteCars removes the car inventory at a location.
func (c *Controller) DeleteCars(ctx context.Context, xid, location string) error {
	return c.guard(ctx, xid, c.clients.Cars.Delete(ctx, xid, location))
}

// QueryCars reads the car inventory at a location.
func (c *Controller) QueryCars(ctx context.Context, xid, location string) (map[string]interface{}, error) {
	fields, err := c.clients.Cars.Query(ctx, xid, location)
	return fields, c.guard(ctx, xid, err)
}

// ReserveCar books cars at a location for a customer.
func (c *Controller) ReserveCar(ctx context.Context, xid, custName, location string, quantity int64) error {
	return c.reserve(ctx, xid, c.clients.Cars, ReserveCar, custName, location, quantity)
}

// --- customers ---

// AddCustomer registers a customer.
func (c *Controller) AddCustomer(ctx context.Context, xid, custName string) error {
	return c.guard(ctx, xid, c.clients.Customers.Insert(ctx, xid, custName, map[string]interface{}{
		"custName": custName,
	}))
}

// DeleteCustomer removes a customer.
func (c *Controller) DeleteCustomer(ctx context.Context, xid, custName string) error {
	return c.guard(ctx, xid, c.clients.Customers.Delete(ctx, xid, custName))
}

// QueryCustomer reads a customer visible to xid.
func (c *Controller) QueryCustomer(ctx context.Context, xid, custName string) (map[string]interface{}, error) {
	fields, err := c.clients.Customers.Query(ctx, xid, custName)
	return fields, c.guard(ctx, xid, err)
}

// reserve is the shared composite operation behind every Reserve* verb.
func (c *Controller) reserve(ctx context.Context, xid string, inventory RMClient,
	resvType ReservationType, custName, resvKey string, quantity int64) error {
	if quantity <= 0 {
		return c.guard(ctx, xid, errcode.Newf(errcode.InvalidArgument, "quantity %d", quantity))
	}

	if _, err := c.clients.Customers.Query(ctx, xid, custName); err != nil {
		return c.guard(ctx, xid, err)
	}

	item, err := inventory.Query(ctx, xid, resvKey)
	if err != nil {
		return c.guard(ctx, xid, err)
	}
	avail := cast.ToInt64(item["numAvail"])
	if avail < quantity {
		return c.guard(ctx, xid, &errcode.Error{
			Code:    errcode.InsufficientAvailability,
			Key:     resvKey,
			Message: "insufficient availability",
		})
	}

	if err := inventory.Update(ctx, xid, resvKey, map[string]interface{}{
		"numAvail": avail - quantity,
	}); err != nil {
		return c.guard(ctx, xid, err)
	}

	resvID := custName + "|" + string(resvType) + "|" + resvKey
	err = c.clients.Reservations.Insert(ctx, xid, resvID, map[string]interface{}{
		"custName": custName,
		"resvType": string(resvType),
		"resvKey":  resvKey,
		"count":    quantity,
	})
	if err != nil {
		return c.guard(ctx, xid, err)
	}

	c.logger.Info("reservation staged",
		zap.String("xid", xid),
		zap.String("custName", custName),
		zap.String("resvType", string(resvType)),
		zap.String("resvKey", resvKey),
		zap.Int64("quantity", quantity))
	return nil
}

// Reconnect probes the TM and every RM, returning per-target reachability.
// The admin endpoint exposes it so operators can verify wiring after a
// topology change.
func (c *Controller) Reconnect(ctx context.Context) map[string]bool {
	targets := map[string]interface{ Ping(context.Context) error }{
		"tm":           c.clients.TM,
		"flights":      c.clients.Flights,
		"hotels":       c.clients.Hotels,
		"cars":         c.clients.Cars,
		"customers":    c.clients.Customers,
		"reservations": c.clients.Reservations,
	}
	out := make(map[string]bool, len(targets))
	for name, target := range targets {
		err := target.Ping(ctx)
		out[name] = err == nil
		if err != nil {
			c.logger.Warn("probe failed", zap.String("target", name), zap.Error(err))
		}
	}
	c.Revive()
	return out
}
