package credentials

import "time"

// TokenTTL is how long an EZDerm access token stays valid after issuance.
// A token older than this is never presented upstream without refresh.
const TokenTTL = 10 * time.Minute

// Credentials is the single active identity used by every background job.
// The token lifecycle manager is the only writer; writes are full-record
// upserts keyed by username, last-write-wins.
type Credentials struct {
	Username      string    `db:"username" json:"username"`
	Password      string    `db:"password" json:"-"`
	ServerURL     string    `db:"server_url" json:"server_url,omitempty"`
	AccessToken   string    `db:"access_token" json:"-"`
	RefreshToken  string    `db:"refresh_token" json:"-"`
	TokenIssuedAt time.Time `db:"token_issued_at" json:"token_issued_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasToken reports whether a token pair has ever been stored.
func (c *Credentials) HasToken() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}
