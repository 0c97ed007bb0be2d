package twofactor

// GenerateSecret creates a fresh TOTP secret for userID and returns the
// material an authenticator app needs. label is the account name shown in
// the app and defaults to userID. Nothing is persisted; enrollment stores
// the secret only once the first code passes.
func (e *Engine) GenerateSecret(userID, label string) (SecretSetup, error) {
	if e == nil || e.totp == nil {
		return SecretSetup{}, ErrEngineNotReady
	}
	if label == "" {
		label = userID
	}

	secret, _, err := e.totp.generate(label)
	if err != nil {
		return SecretSetup{}, ErrEngineNotReady
	}
	return e.secretSetup(secret, label)
}

// RenderProvisioningImage encodes uri as a PNG QR code, size pixels square.
func (e *Engine) RenderProvisioningImage(uri string, size int) ([]byte, error) {
	if uri == "" {
		return nil, ErrInvalidState
	}
	if size <= 0 {
		size = e.config.TOTP.QRCodeSize
	}
	return renderQRCode(uri, size)
}

func (e *Engine) secretSetup(secret []byte, label string) (SecretSetup, error) {
	key, err := e.totp.key(secret, label)
	if err != nil {
		return SecretSetup{}, ErrEngineNotReady
	}

	setup := SecretSetup{
		Secret: key.Secret(),
		URI:    key.URL(),
	}
	if e.config.TOTP.QRCodeSize > 0 {
		img, err := renderQRCode(setup.URI, e.config.TOTP.QRCodeSize)
		if err != nil {
			return SecretSetup{}, err
		}
		setup.Image = img
	}
	return setup, nil
}
