package main

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nioca/ca/internal/camaterial"
	"github.com/nioca/ca/internal/cryptoutil"
)

// Ranges, in minutes, of the random not_before offsets for the root and the
// intermediate, so a root or intermediate generated here doesn't leak the
// instant it was created any more than one imported from an existing CA
// would. Leaf certificates from the issuance engine use a fixed backdate
// instead.
const (
	rootOffsetMinMinutes = 525600
	rootOffsetMaxMinutes = 1051200
	intOffsetMinMinutes  = 1
	intOffsetMaxMinutes  = 525600
)

var x509Cmd = &cobra.Command{
	Use:   "x509",
	Short: "Generate a root and intermediate X.509 CA pair",
}

var (
	x509Out         string
	x509Name        string
	x509Password    string
	x509KeyType     string
	x509RootYears   int
	x509IntYears    int
	x509DNSConstr   []string
	x509CIDRConstr  []string
)

var x509InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate root.pem, intermediate.pem, and the encrypted intermediate key",
	RunE:  runX509Init,
}

func init() {
	rootCmd.AddCommand(x509Cmd)
	x509Cmd.AddCommand(x509InitCmd)

	x509InitCmd.Flags().StringVar(&x509Out, "out", ".", "output directory")
	x509InitCmd.Flags().StringVar(&x509Name, "name", "nioca", "CA common name prefix")
	x509InitCmd.Flags().StringVar(&x509Password, "password", "", "password protecting the intermediate private key (required)")
	x509InitCmd.Flags().StringVar(&x509KeyType, "key-type", string(cryptoutil.KeyTypeECDSAP384), "rsa2048, ecdsap256, ecdsap384, or ed25519")
	x509InitCmd.Flags().IntVar(&x509RootYears, "root-years", 20, "root certificate validity in years")
	x509InitCmd.Flags().IntVar(&x509IntYears, "intermediate-years", 10, "intermediate certificate validity in years")
	x509InitCmd.Flags().StringSliceVar(&x509DNSConstr, "dns-constraint", nil, "permitted DNS subtree for the intermediate (repeatable)")
	x509InitCmd.Flags().StringSliceVar(&x509CIDRConstr, "cidr-constraint", nil, "permitted IP CIDR subtree for the intermediate (repeatable)")
	_ = x509InitCmd.MarkFlagRequired("password")
}

func runX509Init(cmd *cobra.Command, args []string) error {
	if len(x509Password) < 8 {
		return fmt.Errorf("--password must be at least 8 characters")
	}
	keyType := cryptoutil.KeyType(x509KeyType)

	rootCert, rootDER, rootSigner, err := generateRootCA(keyType, x509Name, x509RootYears)
	if err != nil {
		return fmt.Errorf("generate root CA: %w", err)
	}
	_, intDER, intSigner, err := generateIntermediateCA(rootCert, rootSigner, keyType, x509Name, x509IntYears, x509DNSConstr, x509CIDRConstr)
	if err != nil {
		return fmt.Errorf("generate intermediate CA: %w", err)
	}

	rootPEM := cryptoutil.EncodeCertificatePEM(rootDER)
	intPEM := cryptoutil.EncodeCertificatePEM(intDER)

	// Run the same chain validation the server applies at unseal/init time,
	// so a malformed bootstrap output fails here instead of at the server.
	if _, _, err := camaterial.ValidateX509Chain(rootPEM, intPEM); err != nil {
		return fmt.Errorf("generated chain failed validation: %w", err)
	}

	intKeyPEM, err := cryptoutil.EncodePrivateKeyPEM(intSigner)
	if err != nil {
		return fmt.Errorf("encode intermediate key: %w", err)
	}
	kdfKey := cryptoutil.KDFDangerStatic([]byte(x509Password))
	ciphertext, err := cryptoutil.Seal(kdfKey, intKeyPEM, nil)
	if err != nil {
		return fmt.Errorf("encrypt intermediate key: %w", err)
	}
	ciphertextHex := hex.EncodeToString(ciphertext)

	if err := os.MkdirAll(x509Out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(x509Out, "root.pem"), rootPEM, 0o644); err != nil {
		return fmt.Errorf("write root.pem: %w", err)
	}
	if err := os.WriteFile(filepath.Join(x509Out, "intermediate.pem"), intPEM, 0o644); err != nil {
		return fmt.Errorf("write intermediate.pem: %w", err)
	}
	if err := os.WriteFile(filepath.Join(x509Out, "intermediate.key.enc.hex"), []byte(ciphertextHex), 0o600); err != nil {
		return fmt.Errorf("write intermediate.key.enc.hex: %w", err)
	}

	fmt.Printf("wrote %s, %s, %s\n",
		filepath.Join(x509Out, "root.pem"),
		filepath.Join(x509Out, "intermediate.pem"),
		filepath.Join(x509Out, "intermediate.key.enc.hex"))
	fmt.Println("paste the three files' contents and the password above into POST /unseal/init as rootPem, intermediatePem, intermediateKeyCiphertextHex, intermediatePassword")
	return nil
}

func generateRootCA(keyType cryptoutil.KeyType, name string, years int) (*x509.Certificate, []byte, crypto.Signer, error) {
	kp, err := cryptoutil.Generate(keyType)
	if err != nil {
		return nil, nil, nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, nil, err
	}
	notBefore, err := backdatedNotBefore(rootOffsetMinMinutes, rootOffsetMaxMinutes)
	if err != nil {
		return nil, nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name + " Root CA"},
		NotBefore:             notBefore,
		NotAfter:              time.Now().AddDate(years, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, kp.PublicKey(), kp.Signer())
	if err != nil {
		return nil, nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, err
	}
	return cert, der, kp.Signer(), nil
}

func generateIntermediateCA(root *x509.Certificate, rootSigner crypto.Signer, keyType cryptoutil.KeyType, name string, years int, dnsConstraints, cidrConstraints []string) (*x509.Certificate, []byte, crypto.Signer, error) {
	kp, err := cryptoutil.Generate(keyType)
	if err != nil {
		return nil, nil, nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, nil, err
	}
	notBefore, err := backdatedNotBefore(intOffsetMinMinutes, intOffsetMaxMinutes)
	if err != nil {
		return nil, nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name + " Intermediate CA"},
		NotBefore:             notBefore,
		NotAfter:              time.Now().AddDate(years, 0, 0),
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCRLSign | x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	for _, d := range dnsConstraints {
		d = strings.TrimSpace(d)
		if d != "" {
			tmpl.PermittedDNSDomains = append(tmpl.PermittedDNSDomains, d)
		}
	}
	for _, c := range cidrConstraints {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid --cidr-constraint %q: %w", c, err)
		}
		tmpl.PermittedIPRanges = append(tmpl.PermittedIPRanges, ipNet)
	}
	if len(tmpl.PermittedDNSDomains) > 0 || len(tmpl.PermittedIPRanges) > 0 {
		tmpl.PermittedDNSDomainsCritical = false
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, root, kp.PublicKey(), rootSigner)
	if err != nil {
		return nil, nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, err
	}
	return cert, der, kp.Signer(), nil
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

// backdatedNotBefore returns now minus a uniformly random offset in
// [minMinutes, maxMinutes], so the certificate's not_before doesn't reveal
// the moment it was actually generated.
func backdatedNotBefore(minMinutes, maxMinutes int) (time.Time, error) {
	span := maxMinutes - minMinutes
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return time.Time{}, err
	}
	offset := time.Duration(minMinutes+int(n.Int64())) * time.Minute
	return time.Now().Add(-offset), nil
}
