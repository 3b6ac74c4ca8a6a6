// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth maintains the bearer credential for the upstream API.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/errkind"
)

// State of the credential cache.
type State int

const (
	Empty State = iota
	Valid
	NearExpiry
	Invalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "Valid"
	case NearExpiry:
		return "NearExpiry"
	case Invalid:
		return "Invalid"
	}
	return "Empty"
}

// Credential is an access token with its validity period.
type Credential struct {
	Token    string
	IssuedAt time.Time
	Lifetime time.Duration
}

// Expires returns the instant the credential stops being valid.
func (c Credential) Expires() time.Time { return c.IssuedAt.Add(c.Lifetime) }

// Exchanger obtains a new credential from the token endpoint. IssuedAt of the
// result is ignored; the cache stamps it with its own clock.
type Exchanger interface {
	Exchange(ctx context.Context) (Credential, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context) (Credential, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (Credential, error) { return f(ctx) }

// Cache holds at most one credential and refreshes it on demand. It is safe
// for concurrent use; concurrent refreshes collapse into a single exchange
// whose outcome every waiter shares.
type Cache struct {
	exchanger Exchanger
	now       func() time.Time
	group     singleflight.Group

	mu      sync.Mutex
	cred    Credential
	invalid bool
	gen     uint64 // incremented by every stored credential
	dirty   bool   // set while cred is partially written
}

// NewCache creates an empty cache.
func NewCache(e Exchanger) *Cache {
	return &Cache{exchanger: e, now: time.Now}
}

// stateLocked requires c.mu to be held.
func (c *Cache) stateLocked() State {
	switch {
	case c.cred.Token == "":
		return Empty
	case c.invalid:
		return Invalid
	}
	now := c.now()
	if !now.Before(c.cred.Expires()) {
		return Invalid
	}
	if now.Sub(c.cred.IssuedAt) >= c.cred.Lifetime/2 {
		return NearExpiry
	}
	return Valid
}

// recoverLocked resets a cache whose previous mutation did not complete.
// Requires c.mu to be held.
func (c *Cache) recoverLocked() bool {
	if !c.dirty {
		return false
	}
	c.cred = Credential{}
	c.invalid = false
	c.dirty = false
	return true
}

// State of the cache at this instant.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoverLocked()
	return c.stateLocked()
}

// Invalidate marks the cached credential as rejected by the server. The next
// Token call exchanges a new one.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoverLocked()
	if c.cred.Token != "" {
		c.invalid = true
	}
}

// Token returns a usable access token. A credential past half of its lifetime
// is refreshed proactively, falling back to the cached token when the refresh
// fails. An empty, invalid or expired cache refreshes synchronously and
// propagates the failure.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.recoverLocked() {
		logging.Warningf(ctx, "credential cache was left mid-update; reset to empty")
	}
	st := c.stateLocked()
	token := c.cred.Token
	gen := c.gen
	c.mu.Unlock()

	switch st {
	case Valid:
		return token, nil
	case NearExpiry:
		t, err := c.refresh(ctx, gen)
		if err != nil {
			logging.Warningf(ctx, "proactive credential refresh failed, using the cached token: %s", err.Error())
			return token, nil
		}
		return t, nil
	}
	return c.refresh(ctx, gen)
}

type refreshed struct {
	token string
}

// refresh exchanges a new credential unless one was stored after generation
// gen was observed.
func (c *Cache) refresh(ctx context.Context, gen uint64) (string, error) {
	ch := c.group.DoChan("exchange", func() (any, error) {
		c.mu.Lock()
		if c.gen != gen {
			st := c.stateLocked()
			if st == Valid || st == NearExpiry {
				t := c.cred.Token
				c.mu.Unlock()
				return refreshed{token: t}, nil
			}
		}
		c.mu.Unlock()

		cred, err := c.exchange(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store(cred); err != nil {
			return nil, err
		}
		return refreshed{token: cred.Token}, nil
	})
	select {
	case <-ctx.Done():
		return "", errkind.Wrap(errkind.Authentication, ctx.Err(), "waiting for credential refresh")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(refreshed).token, nil
	}
}

// exchange calls the exchanger, converting a panic into an error which
// leaves the cache empty.
func (c *Cache) exchange(ctx context.Context) (cred Credential, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.cred = Credential{}
			c.invalid = false
			c.dirty = false
			c.mu.Unlock()
			err = errkind.New(errkind.Authentication, "token exchange panicked: %s", fmt.Sprint(r))
		}
	}()
	cred, err = c.exchanger.Exchange(ctx)
	if err != nil {
		if errkind.Of(err) == errkind.Unknown {
			err = errkind.Wrap(errkind.Authentication, err, "token exchange failed")
		}
		return Credential{}, err
	}
	if cred.Token == "" {
		return Credential{}, errkind.New(errkind.Authentication, "token endpoint returned an empty access token")
	}
	if cred.Lifetime <= 0 {
		return Credential{}, errkind.New(errkind.Authentication,
			"token endpoint returned a non-positive lifetime: %s", cred.Lifetime)
	}
	return cred, nil
}

// store the credential. A panic in the middle leaves the dirty marker set, and
// the next access resets the cache to empty.
func (c *Cache) store(cred Credential) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = errkind.New(errkind.Authentication, "storing the credential panicked: %s", fmt.Sprint(r))
		}
	}()
	c.dirty = true
	c.cred.Token = cred.Token
	c.cred.Lifetime = cred.Lifetime
	c.cred.IssuedAt = c.now()
	c.invalid = false
	c.gen++
	c.dirty = false
	return nil
}
