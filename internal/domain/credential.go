package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is the persisted access/refresh token pair. Fields other than
// the three known ones are kept in Extra and written back untouched.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresOn    time.Time
	Extra        map[string]json.RawMessage
}

// Valid reports whether the access token is still usable at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && c.ExpiresOn.After(now)
}

const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyExpiresOn    = "expiresOn"
)

func (c Credential) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	out[keyAccessToken] = c.AccessToken
	if c.RefreshToken != "" {
		out[keyRefreshToken] = c.RefreshToken
	}
	out[keyExpiresOn] = c.ExpiresOn.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var cred Credential
	if v, ok := raw[keyAccessToken]; ok {
		if err := json.Unmarshal(v, &cred.AccessToken); err != nil {
			return fmt.Errorf("failed to decode %s: %w", keyAccessToken, err)
		}
		delete(raw, keyAccessToken)
	}
	if v, ok := raw[keyRefreshToken]; ok {
		if err := json.Unmarshal(v, &cred.RefreshToken); err != nil {
			return fmt.Errorf("failed to decode %s: %w", keyRefreshToken, err)
		}
		delete(raw, keyRefreshToken)
	}
	if v, ok := raw[keyExpiresOn]; ok {
		if err := json.Unmarshal(v, &cred.ExpiresOn); err != nil {
			return fmt.Errorf("failed to decode %s: %w", keyExpiresOn, err)
		}
		delete(raw, keyExpiresOn)
	}
	if len(raw) > 0 {
		cred.Extra = raw
	}
	*c = cred
	return nil
}
