package codec

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCipher is given a non-positive size.
const DefaultCacheSize = 256

type decoded struct {
	plain string
	ok    bool
}

// Cipher binds the codec to one team key. Teammates repeat the same
// broadcasts often, so decoded tokens (failures included) are cached.
type Cipher struct {
	key   string
	cache *lru.Cache[string, decoded]
}

// NewCipher creates a Cipher for key.
func NewCipher(key string, cacheSize int) (*Cipher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, decoded](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create decode cache: %w", err)
	}
	if _, err := Encode("", key); err != nil {
		return nil, err
	}
	return &Cipher{key: key, cache: cache}, nil
}

// Seal encodes plaintext with the team key.
func (c *Cipher) Seal(plaintext string) (string, error) {
	return Encode(plaintext, c.key)
}

// Open decodes token with the team key.
func (c *Cipher) Open(token string) (string, bool) {
	if hit, ok := c.cache.Get(token); ok {
		return hit.plain, hit.ok
	}
	plain, ok := Decode(token, c.key)
	c.cache.Add(token, decoded{plain: plain, ok: ok})
	return plain, ok
}
