package reqlayer

import (
	"context"

	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// Login submits credentials to the login endpoint.
func (c *Client) Login(ctx context.Context, creds types.Credentials) (*types.LoginResult, error) {
	var res types.LoginResult
	if err := c.Post(ctx, c.config.Endpoints.Login, creds, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Verify asks the server whether the current token is still valid.
func (c *Client) Verify(ctx context.Context) (*types.VerifyResult, error) {
	var res types.VerifyResult
	if err := c.Get(ctx, c.config.Endpoints.Verify, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Refresh exchanges the current token for a new one.
func (c *Client) Refresh(ctx context.Context) (*types.RefreshResult, error) {
	var res types.RefreshResult
	if err := c.Post(ctx, c.config.Endpoints.Refresh, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout tells the server to end the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, c.config.Endpoints.Logout, nil, nil)
}
