package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/nioca/ca/internal/cryptoutil"
)

var sshCmd = &cobra.Command{
	Use:   "ssh",
	Short: "Generate an SSH CA keypair",
}

var (
	sshOut     string
	sshName    string
	sshKeyType string
)

var sshInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate ca-ssh.pub and ca-ssh.key.pem",
	RunE:  runSSHInit,
}

func init() {
	rootCmd.AddCommand(sshCmd)
	sshCmd.AddCommand(sshInitCmd)

	sshInitCmd.Flags().StringVar(&sshOut, "out", ".", "output directory")
	sshInitCmd.Flags().StringVar(&sshName, "name", "nioca-ssh-ca", "CA name, recorded only in log output")
	sshInitCmd.Flags().StringVar(&sshKeyType, "key-type", string(cryptoutil.KeyTypeEd25519), "rsa2048, ecdsap256, ecdsap384, or ed25519")
}

// runSSHInit writes a plain PEM private key, not the kdf_danger_static
// ciphertext the X.509 intermediate key needs. Unlike the intermediate key,
// which has to survive being pasted into unseal/init before a master key
// exists, the SSH CA key is imported later through the admin API (POST
// /api/ca/ssh), which re-encrypts it under the real master key on arrival. The
// plaintext file here never touches the database; guard the output
// directory like any other private key material.
func runSSHInit(cmd *cobra.Command, args []string) error {
	kp, err := cryptoutil.Generate(cryptoutil.KeyType(sshKeyType))
	if err != nil {
		return fmt.Errorf("generate ssh CA key: %w", err)
	}
	sshSigner, err := ssh.NewSignerFromSigner(kp.Signer())
	if err != nil {
		return fmt.Errorf("derive ssh signer: %w", err)
	}
	pubKey := ssh.MarshalAuthorizedKey(sshSigner.PublicKey())
	fingerprint := ssh.FingerprintSHA256(sshSigner.PublicKey())

	keyPEM, err := cryptoutil.EncodePrivateKeyPEM(kp.Signer())
	if err != nil {
		return fmt.Errorf("encode ssh CA key: %w", err)
	}

	if err := os.MkdirAll(sshOut, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sshOut, "ca-ssh.pub"), pubKey, 0o644); err != nil {
		return fmt.Errorf("write ca-ssh.pub: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sshOut, "ca-ssh.key.pem"), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write ca-ssh.key.pem: %w", err)
	}

	fmt.Printf("wrote %s, %s\n", filepath.Join(sshOut, "ca-ssh.pub"), filepath.Join(sshOut, "ca-ssh.key.pem"))
	fmt.Printf("%s fingerprint: %s\n", sshName, fingerprint)
	fmt.Println("POST ca-ssh.key.pem's contents to the admin SSH CA import endpoint once the server is unsealed")
	return nil
}
