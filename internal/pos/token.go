package pos

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the token can still be used at now without entering
// the refresh margin.
func (t Token) Fresh(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Add(margin).Before(t.ExpiresAt)
}

type tokenRequest struct {
	APILogin string `json:"apiLogin"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Authenticate returns a cached token or obtains a new one. Concurrent callers
// share a single request to the POS.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok.Fresh(c.now(), c.cfg.RefreshMargin) {
		return tok, nil
	}

	ch := c.authGroup.DoChan("token", func() (any, error) {
		return c.obtainToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

func (c *Client) obtainToken(ctx context.Context) (Token, error) {
	tok, err := c.requestToken(ctx)
	if err != nil && isTransient(err) {
		c.log.Warn("pos authentication failed, retrying", slog.Any("err", err))
		select {
		case <-ctx.Done():
			return Token{}, &AuthError{Op: "authenticate", Err: ctx.Err()}
		case <-time.After(c.cfg.AuthBackoff):
		}
		tok, err = c.requestToken(ctx)
	}
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return Token{}, err
		}
		return Token{}, &AuthError{Op: "authenticate", Err: err}
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return tok, nil
}

func (c *Client) requestToken(ctx context.Context) (Token, error) {
	var resp tokenResponse
	if err := c.post(ctx, "authenticate", "/api/1/access_token", "", tokenRequest{APILogin: c.cfg.APILogin}, &resp, false); err != nil {
		return Token{}, err
	}
	if resp.Token == "" {
		return Token{}, &UpstreamError{Op: "authenticate", StatusCode: 200, Err: errMalformed}
	}

	ttl := c.cfg.TokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	return Token{Value: resp.Token, ExpiresAt: c.now().Add(ttl)}, nil
}

// dropToken forgets stale unless another caller already replaced it.
func (c *Client) dropToken(stale Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == stale.Value {
		c.token = Token{}
	}
}
