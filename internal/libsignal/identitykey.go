package libsignal

// IdentityKeyPair holds a public/private key pair used as a long-term identity.
type IdentityKeyPair struct {
	PublicKey  *PublicKey
	PrivateKey *PrivateKey
}

// GenerateIdentityKeyPair creates a new random identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	pub, err := priv.PublicKey()
	if err != nil {
		priv.Destroy()
		return nil, err
	}
	return &IdentityKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Destroy frees both keys.
func (kp *IdentityKeyPair) Destroy() {
	if kp.PublicKey != nil {
		kp.PublicKey.Destroy()
	}
	if kp.PrivateKey != nil {
		kp.PrivateKey.Destroy()
	}
}
