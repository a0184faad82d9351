package crypto

import "testing"

// FuzzKeyPairGeneration fuzzes key pair generation across the Ed25519,
// Secp256k1 and X25519 key types.
func FuzzKeyPairGeneration(f *testing.F) {
	f.Add(uint8(0))
	f.Add(uint8(1))
	f.Add(uint8(2))

	f.Fuzz(func(t *testing.T, selector uint8) {
		keyTypes := []KeyType{KeyTypeEd25519, KeyTypeSecp256k1, KeyTypeX25519}
		keyType := keyTypes[int(selector)%len(keyTypes)]

		keyPair, err := GenerateKeyPair(keyType)
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}
		if keyPair.Type() != keyType {
			t.Fatalf("key type mismatch: expected %s, got %s", keyType, keyPair.Type())
		}
	})
}

// FuzzSignAndVerify fuzzes signing and verification for an Ed25519 pair.
func FuzzSignAndVerify(f *testing.F) {
	f.Add([]byte("hello"))
	f.Add([]byte(""))
	f.Add(make([]byte, 1024))

	keyPair, err := GenerateKeyPair(KeyTypeEd25519)
	if err != nil {
		f.Fatalf("failed to generate seed key pair: %v", err)
	}

	f.Fuzz(func(t *testing.T, message []byte) {
		signature, err := keyPair.Sign(message)
		if err != nil {
			t.Fatalf("failed to sign message: %v", err)
		}
		if err := keyPair.Verify(message, signature); err != nil {
			t.Fatalf("failed to verify valid signature: %v", err)
		}

		if len(message) > 0 {
			modified := append([]byte(nil), message...)
			modified[0] ^= 0xFF
			if err := keyPair.Verify(modified, signature); err == nil {
				t.Fatal("verification succeeded for a modified message")
			}
		}
	})
}

// FuzzSignatureWithDifferentKeys checks cross-key verification fails.
func FuzzSignatureWithDifferentKeys(f *testing.F) {
	f.Add([]byte("message"))

	keyPair1, _ := GenerateKeyPair(KeyTypeEd25519)
	keyPair2, _ := GenerateKeyPair(KeyTypeEd25519)

	f.Fuzz(func(t *testing.T, message []byte) {
		signature, err := keyPair1.Sign(message)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		if err := keyPair2.Verify(message, signature); err == nil {
			t.Fatal("verification succeeded with the wrong key")
		}
		if err := keyPair1.Verify(message, signature); err != nil {
			t.Fatalf("verification failed with the correct key: %v", err)
		}
	})
}
