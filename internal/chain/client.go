// Package chain talks to the EVM network: balance reads, ERC-20
// transfers and approvals, and exchange swaps, plus the coordinator
// that sequences them into a trade.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an RPC connection with the contract calls trade
// execution needs.
type Client struct {
	client    *ethclient.Client
	chainID   *big.Int
	erc20ABI  abi.ABI
	escrowABI abi.ABI
	tradeABI  abi.ABI
}

// erc20JSON covers the subset of ERC-20 used here.
const erc20JSON = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// escrowJSON is the escrow contract's only write: a restricted
// transfer-out that moves tokens to the agent's actor.
const escrowJSON = `[
	{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"fundActor","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// tradeJSON is the trading interface exposed by each token contract.
// Both calls carry the token amount and its funding-asset counterpart.
const tradeJSON = `[
	{"inputs":[{"name":"tokenAmount","type":"uint256"},{"name":"cost","type":"uint256"}],"name":"buy","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"tokenAmount","type":"uint256"},{"name":"expectedRevenue","type":"uint256"}],"name":"sell","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// NewClient connects to the RPC endpoint.
func NewClient(rpcURL string, chainID int64) (*Client, error) {
	erc20ABI, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}
	escrowABI, err := abi.JSON(strings.NewReader(escrowJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	tradeABI, err := abi.JSON(strings.NewReader(tradeJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse trade ABI: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &Client{
		client:    client,
		chainID:   big.NewInt(chainID),
		erc20ABI:  erc20ABI,
		escrowABI: escrowABI,
		tradeABI:  tradeABI,
	}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// NativeBalance returns the gas-token balance of addr in wei.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check native balance: %w", err)
	}
	return balance, nil
}

// TokenBalance returns holder's ERC-20 balance in base units.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	var balance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

// Decimals returns the ERC-20 decimals of token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := c.erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals: %w", err)
	}
	var decimals uint8
	if err := c.erc20ABI.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack decimals result: %w", err)
	}
	return decimals, nil
}

// Allowance returns how much spender may move of owner's token balance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	var allowance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	return allowance, nil
}

// FundActor calls the escrow contract's fundActor entry point, moving
// amount of token from the escrow to the caller's actor account. The
// call is signed by the actor; the contract restricts who may receive.
func (c *Client) FundActor(ctx context.Context, key *ecdsa.PrivateKey, escrow, token common.Address, amount *big.Int) (string, error) {
	data, err := c.escrowABI.Pack("fundActor", token, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack fundActor call: %w", err)
	}
	return c.sendAndWait(ctx, key, escrow, data)
}

// Approve grants spender an allowance on token signed by key and waits
// for the receipt.
func (c *Client) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (string, error) {
	data, err := c.erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack approve call: %w", err)
	}
	return c.sendAndWait(ctx, key, token, data)
}

// Buy calls buy(tokenAmount, cost) on the token contract, spending cost
// of the funding asset for tokenAmount of the token.
func (c *Client) Buy(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, tokenAmount, cost *big.Int) (string, error) {
	data, err := c.tradeABI.Pack("buy", tokenAmount, cost)
	if err != nil {
		return "", fmt.Errorf("failed to pack buy call: %w", err)
	}
	return c.sendAndWait(ctx, key, token, data)
}

// Sell calls sell(tokenAmount, expectedRevenue) on the token contract,
// selling tokenAmount of the token for the funding asset.
func (c *Client) Sell(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, tokenAmount, expectedRevenue *big.Int) (string, error) {
	data, err := c.tradeABI.Pack("sell", tokenAmount, expectedRevenue)
	if err != nil {
		return "", fmt.Errorf("failed to pack sell call: %w", err)
	}
	return c.sendAndWait(ctx, key, token, data)
}

// sendAndWait builds, signs, and submits a contract call, then blocks
// until the transaction is mined. A reverted receipt is an error.
func (c *Client) sendAndWait(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// Estimation also validates the call won't revert.
	estimatedGas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("transaction would revert: %w", err)
	}
	gasLimit := estimatedGas * 120 / 100 // 20% safety margin

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signer := types.NewEIP155Signer(c.chainID)
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, signedTx.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction reverted")
	}

	return signedTx.Hash().Hex(), nil
}

// waitForReceipt polls for the transaction receipt.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, txHash)
			if err == nil {
				return receipt, nil
			}
			// Not mined yet, keep polling.
		}
	}
}
