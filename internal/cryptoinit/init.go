// Package cryptoinit initializes the crypto package with implementations
// from subpackages to avoid circular dependencies.
package cryptoinit

import (
	"github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/crypto/formats"
	"github.com/shinkai-run/shinkai-node/crypto/keys"
	"github.com/shinkai-run/shinkai-node/crypto/rotation"
	"github.com/shinkai-run/shinkai-node/crypto/storage"
)

func init() {
	// Register key generators
	crypto.SetKeyGenerators(
		func() (crypto.KeyPair, error) { return keys.GenerateEd25519KeyPair() },
		func() (crypto.KeyPair, error) { return keys.GenerateSecp256k1KeyPair() },
	)
	crypto.SetX25519Generator(func() (crypto.KeyPair, error) { return keys.GenerateX25519KeyPair() })
	crypto.SetRSAGenerator(func() (crypto.KeyPair, error) { return keys.GenerateRSAKeyPair() })

	// Register storage constructors
	crypto.SetStorageConstructors(
		func() crypto.KeyStorage { return storage.NewMemoryKeyStorage() },
	)
	
	// Register format constructors
	crypto.SetFormatConstructors(
		func() crypto.KeyExporter { return formats.NewJWKExporter() },
		func() crypto.KeyExporter { return formats.NewPEMExporter() },
		func() crypto.KeyImporter { return formats.NewJWKImporter() },
		func() crypto.KeyImporter { return formats.NewPEMImporter() },
	)

	// Register key rotator constructor
	crypto.SetRotatorConstructor(func(s crypto.KeyStorage) crypto.KeyRotator {
		return rotation.NewKeyRotator(s)
	})
}