// Command sign-order produces signed JSON payloads for the node's REST API:
// keygen prints a fresh key pair, sign prints a POST /api/v1/orders body and
// cancel prints a POST /api/v1/orders/cancel body.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/smashdex/params"
	"github.com/uhyunpark/smashdex/pkg/api"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "sign-order",
	Short: "Sign SmashDEX orders and cancels with EIP-712",
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secp256k1 key pair, or derive a BLS key from --bls-seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetString("bls-seed")
		if seed != "" {
			raw, err := hexutil.Decode(seed)
			if err != nil {
				return fmt.Errorf("bls-seed: %w", err)
			}
			s, err := crypto.NewBLSSignerFromSeed(raw)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"blsPubKey": hexutil.Encode(s.PubkeyBytes())})
		}

		s, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"address":    s.Address().Hex(),
			"privateKey": s.PrivateKeyHex(),
		})
	},
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print a signed order payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		domain, err := domainFromFlags(cmd)
		if err != nil {
			return err
		}

		o := &order.Order{}
		o.SymbolIn, _ = f.GetString("in")
		o.SymbolOut, _ = f.GetString("out")
		for name, dst := range map[string]**big.Int{"amt-in": &o.AmtIn, "amt-out": &o.AmtOut, "nonce": &o.Nonce} {
			if *dst, err = bigFlag(cmd, name); err != nil {
				return err
			}
		}
		if f.Changed("trigger") {
			if o.TriggerPrice, err = bigFlag(cmd, "trigger"); err != nil {
				return err
			}
		}

		blsSeed, _ := f.GetString("bls-seed")
		if blsSeed != "" {
			creator, _ := f.GetString("creator")
			if !common.IsHexAddress(creator) {
				return fmt.Errorf("--creator is required with --bls-seed")
			}
			o.Creator = common.HexToAddress(creator)
			if err := o.Validate(); err != nil {
				return err
			}
			raw, err := hexutil.Decode(blsSeed)
			if err != nil {
				return fmt.Errorf("bls-seed: %w", err)
			}
			s, err := crypto.NewBLSSignerFromSeed(raw)
			if err != nil {
				return err
			}
			digest, err := auth.OrderDigest(domain, o)
			if err != nil {
				return err
			}
			o.Signature = s.Sign(digest)
			return printJSON(order.FromOrder(o))
		}

		signer, err := signerFromFlags(cmd)
		if err != nil {
			return err
		}
		o.Creator = signer.Address()
		if err := o.Validate(); err != nil {
			return err
		}
		if err := auth.SignOrder(domain, signer, o); err != nil {
			return err
		}
		return printJSON(order.FromOrder(o))
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Print a signed cancel request",
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, err := domainFromFlags(cmd)
		if err != nil {
			return err
		}
		signer, err := signerFromFlags(cmd)
		if err != nil {
			return err
		}
		nonce, err := bigFlag(cmd, "nonce")
		if err != nil {
			return err
		}
		sig, err := domain.SignCancel(signer, &crypto.CancelEIP712{CreatedBy: signer.Address(), Nonce: nonce})
		if err != nil {
			return err
		}
		return printJSON(api.CancelOrderRequest{
			CreatedBy: signer.Address().Hex(),
			Nonce:     nonce.String(),
			Signature: order.EncodeSignature(sig),
		})
	},
}

func init() {
	def := params.Default().Domain

	keygenCmd.Flags().String("bls-seed", "", "hex seed (at least 32 bytes) to derive a BLS key from")

	for _, c := range []*cobra.Command{signCmd, cancelCmd} {
		c.Flags().String("key", "", "hex private key (default: $SIGNER_KEY)")
		c.Flags().String("nonce", "", "order nonce")
		c.Flags().Int64("chain-id", def.ChainID, "EIP-712 chain id")
		c.Flags().String("verifying-contract", def.VerifyingContract.Hex(), "EIP-712 verifying contract")
		c.Flags().String("domain-name", def.Name, "EIP-712 domain name")
		c.Flags().String("domain-version", def.Version, "EIP-712 domain version")
	}
	signCmd.Flags().String("in", "", "symbol given")
	signCmd.Flags().String("out", "", "symbol wanted")
	signCmd.Flags().String("amt-in", "", "amount given, in base units")
	signCmd.Flags().String("amt-out", "", "minimum amount wanted, in base units")
	signCmd.Flags().String("trigger", "", "stop-limit trigger price, quote per base scaled by 1e18")
	signCmd.Flags().String("bls-seed", "", "sign with the BLS key derived from this hex seed instead of --key")
	signCmd.Flags().String("creator", "", "creator address, required with --bls-seed")

	rootCmd.AddCommand(keygenCmd, signCmd, cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func domainFromFlags(cmd *cobra.Command) (*crypto.EIP712Signer, error) {
	f := cmd.Flags()
	d := params.Default().Domain
	d.ChainID, _ = f.GetInt64("chain-id")
	d.Name, _ = f.GetString("domain-name")
	d.Version, _ = f.GetString("domain-version")
	vc, _ := f.GetString("verifying-contract")
	if !common.IsHexAddress(vc) {
		return nil, fmt.Errorf("invalid --verifying-contract %q", vc)
	}
	d.VerifyingContract = common.HexToAddress(vc)
	return crypto.NewEIP712Signer(d.EIP712()), nil
}

func signerFromFlags(cmd *cobra.Command) (*crypto.Signer, error) {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = os.Getenv("SIGNER_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("--key or SIGNER_KEY is required")
	}
	return crypto.FromPrivateKeyHex(key)
}

func bigFlag(cmd *cobra.Command, name string) (*big.Int, error) {
	s, _ := cmd.Flags().GetString(name)
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("--%s must be a decimal integer, got %q", name, s)
	}
	return n, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
