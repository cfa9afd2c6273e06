package jwt

import (
	"fmt"
	"os"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySource describes one origin of verification keys. Exactly one of
// JWKS, JWKSFile, PublicKeyPEM, PublicKeyFile or Secret must be set.
type KeySource struct {
	// ID is assigned as "kid" to PEM and secret keys. Keys from a JWKS
	// document keep their own ids.
	ID string

	// Algorithm restricts the key to one signing algorithm.
	Algorithm string

	JWKS          []byte
	JWKSFile      string
	PublicKeyPEM  []byte
	PublicKeyFile string
	Secret        string
}

// KeySet is an immutable collection of verification keys.
type KeySet struct {
	set jwk.Set
}

// LoadKeySet builds a key set from the given sources.
func LoadKeySet(sources ...KeySource) (*KeySet, error) {
	set := jwk.NewSet()
	for i, src := range sources {
		keys, err := loadSource(src)
		if err != nil {
			return nil, fmt.Errorf("key source %d: %w", i, err)
		}
		for _, key := range keys {
			if err := set.AddKey(key); err != nil {
				return nil, NewKeyError(key.KeyID(), "failed to add key", err)
			}
		}
	}
	if set.Len() == 0 {
		return nil, ErrNoKeys
	}
	return &KeySet{set: set}, nil
}

// NewKeySet wraps already parsed keys.
func NewKeySet(keys ...jwk.Key) (*KeySet, error) {
	set := jwk.NewSet()
	for _, key := range keys {
		if err := set.AddKey(key); err != nil {
			return nil, NewKeyError(key.KeyID(), "failed to add key", err)
		}
	}
	if set.Len() == 0 {
		return nil, ErrNoKeys
	}
	return &KeySet{set: set}, nil
}

func loadSource(src KeySource) ([]jwk.Key, error) {
	switch {
	case len(src.JWKS) > 0:
		return parseJWKS(src.JWKS)
	case src.JWKSFile != "":
		data, err := os.ReadFile(src.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWKS file: %w", err)
		}
		return parseJWKS(data)
	case len(src.PublicKeyPEM) > 0:
		return parsePEM(src.ID, src.Algorithm, src.PublicKeyPEM)
	case src.PublicKeyFile != "":
		data, err := os.ReadFile(src.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		return parsePEM(src.ID, src.Algorithm, data)
	case src.Secret != "":
		key, err := jwk.FromRaw([]byte(src.Secret))
		if err != nil {
			return nil, NewKeyError(src.ID, "invalid secret", err)
		}
		if err := annotate(key, src.ID, src.Algorithm); err != nil {
			return nil, err
		}
		return []jwk.Key{key}, nil
	default:
		return nil, NewKeyError(src.ID, "empty key source", ErrInvalidKey)
	}
}

func parseJWKS(data []byte) ([]jwk.Key, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, NewKeyError("", "invalid JWKS document", err)
	}
	keys := make([]jwk.Key, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		pub, err := publicOnly(key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

func parsePEM(id, alg string, data []byte) ([]jwk.Key, error) {
	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, NewKeyError(id, "invalid PEM key", err)
	}
	pub, err := publicOnly(key)
	if err != nil {
		return nil, err
	}
	if err := annotate(pub, id, alg); err != nil {
		return nil, err
	}
	return []jwk.Key{pub}, nil
}

// publicOnly strips private material from asymmetric keys.
func publicOnly(key jwk.Key) (jwk.Key, error) {
	if key.KeyType() == jwa.OctetSeq {
		return key, nil
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, NewKeyError(key.KeyID(), "failed to derive public key", err)
	}
	return pub, nil
}

func annotate(key jwk.Key, id, alg string) error {
	if id != "" {
		if err := key.Set(jwk.KeyIDKey, id); err != nil {
			return NewKeyError(id, "failed to set key id", err)
		}
	}
	if alg != "" {
		if !compatible(key.KeyType(), alg) {
			return NewKeyError(id, fmt.Sprintf("algorithm %s does not fit key type %s", alg, key.KeyType()), ErrInvalidKey)
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(alg)); err != nil {
			return NewKeyError(id, "failed to set algorithm", err)
		}
	}
	return nil
}

// compatible reports whether a signing algorithm can be used with a key type.
func compatible(kty jwa.KeyType, alg string) bool {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return kty == jwa.RSA
	case strings.HasPrefix(alg, "ES"):
		return kty == jwa.EC
	case strings.HasPrefix(alg, "HS"):
		return kty == jwa.OctetSeq
	case alg == "EdDSA":
		return kty == jwa.OKP
	default:
		return false
	}
}

// Len returns the number of keys.
func (ks *KeySet) Len() int {
	return ks.set.Len()
}

// Algorithms returns the signing algorithms the key set can verify,
// used to restrict accepted "alg" headers when none are configured.
func (ks *KeySet) Algorithms() []string {
	seen := make(map[string]bool)
	var algs []string
	add := func(a string) {
		if !seen[a] {
			seen[a] = true
			algs = append(algs, a)
		}
	}
	for i := 0; i < ks.set.Len(); i++ {
		key, _ := ks.set.Key(i)
		if a := key.Algorithm().String(); a != "" {
			add(a)
			continue
		}
		switch key.KeyType() {
		case jwa.RSA:
			for _, a := range []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"} {
				add(a)
			}
		case jwa.EC:
			for _, a := range []string{"ES256", "ES384", "ES512"} {
				add(a)
			}
		case jwa.OctetSeq:
			for _, a := range []string{"HS256", "HS384", "HS512"} {
				add(a)
			}
		case jwa.OKP:
			add("EdDSA")
		}
	}
	return algs
}

// Lookup finds the key for a token header. With a "kid" the key must
// match it; without one, the single key compatible with alg is used.
func (ks *KeySet) Lookup(kid, alg string) (any, error) {
	var key jwk.Key
	if kid != "" {
		k, ok := ks.set.LookupKeyID(kid)
		if !ok {
			return nil, NewKeyError(kid, "unknown key id", ErrKeyNotFound)
		}
		key = k
	} else {
		var candidates []jwk.Key
		for i := 0; i < ks.set.Len(); i++ {
			k, _ := ks.set.Key(i)
			if usable(k, alg) {
				candidates = append(candidates, k)
			}
		}
		if len(candidates) != 1 {
			return nil, NewKeyError("", fmt.Sprintf("%d keys match %s without kid", len(candidates), alg), ErrKeyNotFound)
		}
		key = candidates[0]
	}

	if !usable(key, alg) {
		return nil, NewKeyError(kid, fmt.Sprintf("key cannot verify %s", alg), ErrKeyNotFound)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, NewKeyError(kid, "failed to export key", err)
	}
	return raw, nil
}

func usable(key jwk.Key, alg string) bool {
	if a := key.Algorithm().String(); a != "" && a != alg {
		return false
	}
	return compatible(key.KeyType(), alg)
}

// keyfunc adapts the key set to golang-jwt.
func (ks *KeySet) keyfunc(token *gojwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	alg, _ := token.Header["alg"].(string)
	return ks.Lookup(kid, alg)
}
