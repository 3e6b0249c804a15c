package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/api/gatewayhandler"
	"github.com/ruteri/template-gateway/cmd/flags"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/urfave/cli/v2"
)

var flagInstance *cli.StringFlag = &cli.StringFlag{
	Name:     "instance",
	Required: true,
	Usage:    "instance address",
}
var flagAccount *cli.StringFlag = &cli.StringFlag{
	Name:     "account",
	Required: true,
	Usage:    "account address",
}
var flagData *cli.StringFlag = &cli.StringFlag{
	Name:  "data",
	Usage: "hex-encoded call or init data",
}
var flagSignature *cli.StringFlag = &cli.StringFlag{
	Name:  "signature",
	Usage: "hex-encoded authorization signature from a signer; without it the fee is paid",
}
var flagValue *cli.StringFlag = &cli.StringFlag{
	Name:  "value",
	Usage: "payment attached to the action",
}
var flagRole *cli.StringFlag = &cli.StringFlag{
	Name:     "role",
	Required: true,
	Usage:    "ADMIN_ROLE, SIGNER_ROLE or a 32-byte role tag",
}

func newClient(cCtx *cli.Context) (*gatewayhandler.Client, error) {
	var key *ecdsa.PrivateKey
	if privkey := cCtx.String(flags.PrivkeyFlag.Name); privkey != "" {
		var err error
		key, err = crypto.HexToECDSA(strings.TrimPrefix(privkey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
	}
	return gatewayhandler.NewClient(cCtx.String(flags.ServerAddrFlag.Name), key), nil
}

func address(cCtx *cli.Context, flag string) (common.Address, error) {
	value := cCtx.String(flag)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid --%s %q", flag, value)
	}
	return common.HexToAddress(value), nil
}

func hexFlag(cCtx *cli.Context, flag string) ([]byte, error) {
	value := cCtx.String(flag)
	if value == "" {
		return nil, nil
	}
	b, err := hexutil.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return b, nil
}

func amount(cCtx *cli.Context, flag string) (*big.Int, error) {
	value := cCtx.String(flag)
	if value == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(value, 0)
	if !ok {
		return nil, fmt.Errorf("invalid --%s %q", flag, value)
	}
	return v, nil
}

func role(cCtx *cli.Context) (common.Hash, error) {
	r, ok := access.ParseRole(cCtx.String(flagRole.Name))
	if !ok {
		return common.Hash{}, fmt.Errorf("invalid --role %q", cCtx.String(flagRole.Name))
	}
	return r, nil
}

func printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	app := &cli.App{
		Name:           "gatewayctl",
		Usage:          "Interact with a template gateway",
		DefaultCommand: "status",
		Flags:          []cli.Flag{flags.ServerAddrFlag, flags.PrivkeyFlag},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show gateway status",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Status(cCtx.Context))
				},
			},
			{
				Name:  "keygen",
				Usage: "generate a private key and print it with its address",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					fmt.Println("privkey:", hexutil.Encode(crypto.FromECDSA(key)))
					fmt.Println("address:", crypto.PubkeyToAddress(key.PublicKey).Hex())
					return nil
				},
			},
			{
				Name:  "sign",
				Usage: "sign an authorization payload as a signer",
				Subcommands: []*cli.Command{
					{
						Name:  "deploy",
						Usage: "authorize --caller to deploy --name with --data, optionally pinned to --version",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "caller", Required: true},
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "version"},
							flagData,
						},
						Action: func(cCtx *cli.Context) error {
							caller, err := address(cCtx, "caller")
							if err != nil {
								return err
							}
							data, err := hexFlag(cCtx, flagData.Name)
							if err != nil {
								return err
							}
							name := interfaces.TemplateName(cCtx.String("name"))
							payload := cryptoutils.DeployPayload(caller, name, data)
							if v := cCtx.String("version"); v != "" {
								version, err := interfaces.ParseTemplateVersion(v)
								if err != nil {
									return err
								}
								payload = cryptoutils.DeployVersionPayload(caller, name, version, data)
							}
							return signPayload(cCtx, payload)
						},
					},
					{
						Name:  "call",
						Usage: "authorize --caller to call --instance with --data",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "caller", Required: true},
							flagInstance,
							flagData,
						},
						Action: func(cCtx *cli.Context) error {
							caller, err := address(cCtx, "caller")
							if err != nil {
								return err
							}
							instance, err := address(cCtx, flagInstance.Name)
							if err != nil {
								return err
							}
							data, err := hexFlag(cCtx, flagData.Name)
							if err != nil {
								return err
							}
							return signPayload(cCtx, cryptoutils.CallPayload(caller, instance, data))
						},
					},
				},
			},
			{
				Name:  "initialize",
				Usage: "set the first admin and signer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Required: true},
					&cli.StringFlag{Name: "signer", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					owner, err := address(cCtx, "owner")
					if err != nil {
						return err
					}
					signer, err := address(cCtx, "signer")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Initialize(cCtx.Context, owner, signer))
				},
			},
			{
				Name:  "upgrade",
				Usage: "run pending state migrations",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Upgrade(cCtx.Context))
				},
			},
			{
				Name:  "templates",
				Usage: "list registered templates",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Templates(cCtx.Context))
				},
			},
			{
				Name:  "register",
				Usage: "register deployed template code",
				Flags: []cli.Flag{&cli.StringFlag{Name: "implementation", Required: true}},
				Action: func(cCtx *cli.Context) error {
					impl, err := address(cCtx, "implementation")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.RegisterTemplate(cCtx.Context, impl))
				},
			},
			{
				Name:  "deploy",
				Usage: "create an instance of a template",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "version", Usage: "pin a version; requires --signature"},
					flagData,
					flagSignature,
					flagValue,
				},
				Action: func(cCtx *cli.Context) error {
					data, err := hexFlag(cCtx, flagData.Name)
					if err != nil {
						return err
					}
					sig, err := hexFlag(cCtx, flagSignature.Name)
					if err != nil {
						return err
					}
					value, err := amount(cCtx, flagValue.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					name := interfaces.TemplateName(cCtx.String("name"))
					return printJSON(c.Deploy(cCtx.Context, name, data, sig, cCtx.String("version"), value))
				},
			},
			{
				Name:  "instance",
				Usage: "describe an instance",
				Flags: []cli.Flag{flagInstance},
				Action: func(cCtx *cli.Context) error {
					instance, err := address(cCtx, flagInstance.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Instance(cCtx.Context, instance))
				},
			},
			{
				Name:  "call",
				Usage: "forward call data to an instance",
				Flags: []cli.Flag{flagInstance, flagData, flagSignature, flagValue},
				Action: func(cCtx *cli.Context) error {
					instance, err := address(cCtx, flagInstance.Name)
					if err != nil {
						return err
					}
					data, err := hexFlag(cCtx, flagData.Name)
					if err != nil {
						return err
					}
					sig, err := hexFlag(cCtx, flagSignature.Name)
					if err != nil {
						return err
					}
					value, err := amount(cCtx, flagValue.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Call(cCtx.Context, instance, data, sig, value))
				},
			},
			{
				Name:  "query",
				Usage: "evaluate call data against an instance without committing",
				Flags: []cli.Flag{flagInstance, flagData},
				Action: func(cCtx *cli.Context) error {
					instance, err := address(cCtx, flagInstance.Name)
					if err != nil {
						return err
					}
					data, err := hexFlag(cCtx, flagData.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					ret, err := c.Query(cCtx.Context, instance, data)
					if err != nil {
						return err
					}
					fmt.Println(hexutil.Encode(ret))
					return nil
				},
			},
			{
				Name:  "whitelist",
				Usage: "enable or disable forwarding to an instance",
				Flags: []cli.Flag{flagInstance, &cli.BoolFlag{Name: "allowed", Value: true}},
				Action: func(cCtx *cli.Context) error {
					instance, err := address(cCtx, flagInstance.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.SetWhitelisted(cCtx.Context, instance, cCtx.Bool("allowed")))
				},
			},
			{
				Name:  "operator",
				Usage: "grant or revoke the operator role of an instance",
				Flags: []cli.Flag{flagInstance, flagAccount, &cli.BoolFlag{Name: "allowed", Value: true}},
				Action: func(cCtx *cli.Context) error {
					instance, err := address(cCtx, flagInstance.Name)
					if err != nil {
						return err
					}
					account, err := address(cCtx, flagAccount.Name)
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.SetOperator(cCtx.Context, instance, account, cCtx.Bool("allowed")))
				},
			},
			{
				Name:  "fees",
				Usage: "show fees and the collected balance",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Fees(cCtx.Context))
				},
			},
			{
				Name:  "set-fee",
				Usage: "set the deployment or call fee",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true, Usage: "'deployment' or 'call'"},
					&cli.StringFlag{Name: "amount", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					fee, err := amount(cCtx, "amount")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					switch cCtx.String("kind") {
					case "deployment":
						return printJSON(c.SetDeploymentFee(cCtx.Context, fee))
					case "call":
						return printJSON(c.SetCallFee(cCtx.Context, fee))
					default:
						return errors.New("--kind must be 'deployment' or 'call'")
					}
				},
			},
			{
				Name:  "withdraw",
				Usage: "transfer collected fees",
				Flags: []cli.Flag{&cli.StringFlag{Name: "to", Required: true}},
				Action: func(cCtx *cli.Context) error {
					to, err := address(cCtx, "to")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.WithdrawFees(cCtx.Context, to))
				},
			},
			{
				Name:  "balance",
				Usage: "show an account balance",
				Flags: []cli.Flag{flagAccount},
				Action: func(cCtx *cli.Context) error {
					account, err := address(cCtx, "account")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Balance(cCtx.Context, account))
				},
			},
			{
				Name:  "fund",
				Usage: "credit an account (admin)",
				Flags: []cli.Flag{flagAccount, &cli.StringFlag{Name: "amount", Required: true}},
				Action: func(cCtx *cli.Context) error {
					account, err := address(cCtx, "account")
					if err != nil {
						return err
					}
					value, err := amount(cCtx, "amount")
					if err != nil {
						return err
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Fund(cCtx.Context, account, value))
				},
			},
			{
				Name:  "role",
				Usage: "query or change role membership",
				Subcommands: []*cli.Command{
					{
						Name:  "has",
						Flags: []cli.Flag{flagRole, flagAccount},
						Action: func(cCtx *cli.Context) error {
							return roleAction(cCtx, func(c *gatewayhandler.Client, r common.Hash, account common.Address) error {
								member, err := c.HasRole(cCtx.Context, r, account)
								if err != nil {
									return err
								}
								fmt.Println(member)
								return nil
							})
						},
					},
					{
						Name:  "grant",
						Flags: []cli.Flag{flagRole, flagAccount},
						Action: func(cCtx *cli.Context) error {
							return roleAction(cCtx, func(c *gatewayhandler.Client, r common.Hash, account common.Address) error {
								return printJSON(c.GrantRole(cCtx.Context, r, account))
							})
						},
					},
					{
						Name:  "revoke",
						Flags: []cli.Flag{flagRole, flagAccount},
						Action: func(cCtx *cli.Context) error {
							return roleAction(cCtx, func(c *gatewayhandler.Client, r common.Hash, account common.Address) error {
								return printJSON(c.RevokeRole(cCtx.Context, r, account))
							})
						},
					},
					{
						Name:  "renounce",
						Flags: []cli.Flag{flagRole},
						Action: func(cCtx *cli.Context) error {
							r, err := role(cCtx)
							if err != nil {
								return err
							}
							c, err := newClient(cCtx)
							if err != nil {
								return err
							}
							return printJSON(c.RenounceRole(cCtx.Context, r))
						},
					},
				},
			},
			{
				Name:  "records",
				Usage: "list committed records",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type"},
					&cli.StringFlag{Name: "instance"},
					&cli.Uint64Flag{Name: "after"},
					&cli.IntFlag{Name: "limit", Value: 100},
				},
				Action: func(cCtx *cli.Context) error {
					filter := interfaces.RecordFilter{
						Type:     interfaces.RecordType(cCtx.String("type")),
						AfterSeq: cCtx.Uint64("after"),
						Limit:    cCtx.Int("limit"),
					}
					if cCtx.String("instance") != "" {
						instance, err := address(cCtx, "instance")
						if err != nil {
							return err
						}
						filter.Instance = &instance
					}
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Records(cCtx.Context, filter))
				},
			},
			{
				Name:  "checkpoint",
				Usage: "store a checkpoint of the gateway state",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return printJSON(c.Checkpoint(cCtx.Context))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func roleAction(cCtx *cli.Context, fn func(c *gatewayhandler.Client, r common.Hash, account common.Address) error) error {
	r, err := role(cCtx)
	if err != nil {
		return err
	}
	account, err := address(cCtx, flagAccount.Name)
	if err != nil {
		return err
	}
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	return fn(c, r, account)
}

func signPayload(cCtx *cli.Context, payload []byte) error {
	privkey := cCtx.String(flags.PrivkeyFlag.Name)
	if privkey == "" {
		return errors.New("--privkey is required to sign")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privkey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	sig, err := cryptoutils.Sign(payload, key)
	if err != nil {
		return err
	}
	fmt.Println(hexutil.Encode(sig))
	return nil
}
