package mqtt

import (
	"errors"
	"net/url"

	"go.uber.org/zap"
)

type Option func(c *Client) error

// WithURL returns an Option which set the broker url. Credentials embedded
// in the url are used when the connect options carry none.
func WithURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		if uri.Host == "" {
			return errors.New("broker url has no host")
		}
		c.uri = uri
		if uri.User != nil {
			c.username = uri.User.Username()
			c.password, _ = uri.User.Password()
		}
		return nil
	}
}

// WithLogger returns an Option which set the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
