package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"

	"sealedchat-backend/internal/client"
	"sealedchat-backend/pkg/e2ee"
)

type generateCmd struct {
	Out       string `arg:"-o,--out" default:"identity.json" help:"where to write the sealed private key"`
	PublicOut string `arg:"-p,--public" default:"identity.pub.pem" help:"where to write the public key"`
	Bits      int    `arg:"--bits" default:"2048" help:"RSA modulus size"`
	Password  string `arg:"env:KEYTOOL_PASSWORD,required" help:"password protecting the private key"`
}

type safetyCmd struct {
	SelfID  string `arg:"positional,required" help:"your user id"`
	SelfKey string `arg:"positional,required" help:"your public key PEM file"`
	PeerID  string `arg:"positional,required" help:"peer user id"`
	PeerKey string `arg:"positional,required" help:"peer public key PEM file"`
	QR      bool   `arg:"--qr" help:"also print the safety number as a QR code"`
}

type openCmd struct {
	Vault    string `arg:"positional,required" help:"sealed private key file"`
	Password string `arg:"env:KEYTOOL_PASSWORD,required" help:"password protecting the private key"`
}

type args struct {
	Generate   *generateCmd `arg:"subcommand:generate" help:"create a new identity keypair"`
	Safety     *safetyCmd   `arg:"subcommand:safety" help:"compute the safety number of two identities"`
	Open       *openCmd     `arg:"subcommand:open" help:"check a password against a sealed key"`
	Iterations int          `arg:"--iterations,env:CRYPTO_PBKDF2_ITERATIONS" default:"100000" help:"PBKDF2 work factor"`
}

func (args) Description() string {
	return "keytool manages sealedchat identity keys"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	if err := run(&a, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(a *args, out io.Writer) error {
	ks := &e2ee.KeyStore{Iterations: a.Iterations, SaltContext: e2ee.DefaultSaltContext}

	switch {
	case a.Generate != nil:
		return runGenerate(a.Generate, ks, out)
	case a.Safety != nil:
		return runSafety(a.Safety, out)
	case a.Open != nil:
		return runOpen(a.Open, ks, out)
	}
	return errors.New("missing subcommand")
}

func runGenerate(cmd *generateCmd, ks *e2ee.KeyStore, out io.Writer) error {
	identity, err := e2ee.GenerateIdentity(cmd.Bits)
	if err != nil {
		return err
	}

	sealed, err := ks.SealPrivateKey(identity.PrivateKey, cmd.Password)
	if err != nil {
		return err
	}
	if err := client.NewFileVault(cmd.Out).Store(sealed); err != nil {
		return err
	}

	pemKey, err := e2ee.ExportPublicKey(identity.PublicKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cmd.PublicOut, []byte(pemKey), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Fprintf(out, "sealed private key: %s\npublic key: %s\n", cmd.Out, cmd.PublicOut)
	return nil
}

func runSafety(cmd *safetyCmd, out io.Writer) error {
	selfKey, err := readPublicKey(cmd.SelfID, cmd.SelfKey)
	if err != nil {
		return err
	}
	peerKey, err := readPublicKey(cmd.PeerID, cmd.PeerKey)
	if err != nil {
		return err
	}

	fingerprint := e2ee.ComputeFingerprint(cmd.SelfID, selfKey, cmd.PeerID, peerKey)
	fmt.Fprintln(out, fingerprint)

	if cmd.QR {
		qrterminal.GenerateHalfBlock(fingerprint, qrterminal.M, out)
	}
	return nil
}

// readPublicKey loads a PEM key in the same canonical form the directory stores
func readPublicKey(userID, path string) (string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return "", fmt.Errorf("invalid user id %q", userID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	pub, err := e2ee.ParsePublicKey(string(data))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return e2ee.ExportPublicKey(pub)
}

func runOpen(cmd *openCmd, ks *e2ee.KeyStore, out io.Writer) error {
	sealed, err := client.NewFileVault(cmd.Vault).Load()
	if err != nil {
		return err
	}

	priv, err := ks.OpenPrivateKey(sealed, cmd.Password)
	if err != nil {
		return err
	}

	pemKey, err := e2ee.ExportPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "password ok\n%s", pemKey)
	return nil
}
