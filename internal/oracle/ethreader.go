package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidAddress = errors.New("oracle: invalid address")
	ErrRPCConnection  = errors.New("oracle: RPC connection failed")
)

// ERC20 minimal ABI for balance and metadata reads
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// ERC20Reader reads ERC-20 token balances over JSON-RPC.
type ERC20Reader struct {
	client EthClient
	abi    abi.ABI
}

// NewERC20Reader dials the RPC endpoint and prepares the ERC-20 ABI.
func NewERC20Reader(rpcURL string) (*ERC20Reader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	return NewERC20ReaderWithClient(client)
}

// NewERC20ReaderWithClient wraps an existing client (for testing).
func NewERC20ReaderWithClient(client EthClient) (*ERC20Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse ERC20 ABI: %w", err)
	}
	return &ERC20Reader{client: client, abi: parsed}, nil
}

// BalanceOf returns the base-unit token balance of account.
func (r *ERC20Reader) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(account) {
		return nil, ErrInvalidAddress
	}

	data, err := r.abi.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("oracle: pack balanceOf: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &tokenAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: balanceOf call: %w", err)
	}

	var balance *big.Int
	if err := r.abi.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("oracle: unpack balanceOf: %w", err)
	}
	return balance, nil
}

// TokenName returns the on-chain name of a token, or an empty string
// when the contract does not expose one.
func (r *ERC20Reader) TokenName(ctx context.Context, token string) string {
	if !common.IsHexAddress(token) {
		return ""
	}
	data, err := r.abi.Pack("name")
	if err != nil {
		return ""
	}
	tokenAddr := common.HexToAddress(token)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return ""
	}
	var name string
	if err := r.abi.UnpackIntoInterface(&name, "name", out); err != nil {
		return ""
	}
	return name
}

// BlockNumber returns the current ledger block height.
func (r *ERC20Reader) BlockNumber(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

// ChainID returns the connected chain's ID.
func (r *ERC20Reader) ChainID(ctx context.Context) (*big.Int, error) {
	return r.client.ChainID(ctx)
}

// Close releases the underlying RPC connection.
func (r *ERC20Reader) Close() {
	r.client.Close()
}
