package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const escrowABI = `[
	{"type":"function","name":"createAgreement","stateMutability":"payable","inputs":[
		{"name":"developer","type":"address"},
		{"name":"projectName","type":"string"},
		{"name":"documentHash","type":"string"},
		{"name":"startTime","type":"uint256"},
		{"name":"endTime","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"requestChange","stateMutability":"payable","inputs":[
		{"name":"agreementId","type":"uint256"},
		{"name":"description","type":"string"}],"outputs":[]},
	{"type":"function","name":"completeAgreement","stateMutability":"nonpayable","inputs":[
		{"name":"agreementId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getAgreement","stateMutability":"view","inputs":[
		{"name":"agreementId","type":"uint256"}],"outputs":[
		{"name":"client","type":"address"},
		{"name":"developer","type":"address"},
		{"name":"totalValue","type":"uint256"},
		{"name":"escrowBalance","type":"uint256"},
		{"name":"status","type":"uint8"}]},
	{"type":"event","name":"AgreementCreated","inputs":[
		{"name":"agreementId","type":"uint256","indexed":true},
		{"name":"client","type":"address","indexed":true},
		{"name":"developer","type":"address","indexed":true},
		{"name":"totalValue","type":"uint256","indexed":false}],"anonymous":false}
]`

// nodeClient is the slice of the ethclient.Client surface the adapter
// actually calls.
type nodeClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthClient implements Client against an EVM node with a custodial
// operator key standing in for the browser wallet.
type EthClient struct {
	rpc      nodeClient
	contract common.Address
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	abi      abi.ABI
}

func NewEthClient(ctx context.Context, rpcURL, contractAddress, operatorKeyHex string) (*EthClient, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, NewError(KindInvalidAddress, "escrow contract address %q is not a valid hex address", contractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, WrapError(KindWalletUnavailable, err, "invalid operator private key")
	}

	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, WrapError(KindWalletUnavailable, err, "failed to dial chain RPC %s", rpcURL)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, WrapError(KindWalletUnavailable, err, "failed to read chain id")
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, WrapError(KindUnknown, err, "failed to parse escrow ABI")
	}

	return &EthClient{
		rpc:      rpc,
		contract: common.HexToAddress(contractAddress),
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		abi:      parsed,
	}, nil
}

func (e *EthClient) Connect(ctx context.Context) (string, error) {
	if _, err := e.rpc.BlockNumber(ctx); err != nil {
		return "", WrapError(classify(err, KindWalletUnavailable), err, "chain node unreachable")
	}
	return e.address.Hex(), nil
}

func (e *EthClient) CreateAgreement(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error) {
	if !common.IsHexAddress(developerAddress) {
		return "", NewError(KindInvalidAddress, "developer address %q is not a valid 20-byte hex address", developerAddress)
	}

	value := ToWei(totalValue)
	balance, err := e.rpc.BalanceAt(ctx, e.address, nil)
	if err != nil {
		return "", WrapError(classify(err, KindRPC), err, "failed to read wallet balance")
	}
	if balance.Cmp(value) < 0 {
		return "", NewError(KindInsufficientFunds,
			"wallet %s holds %s but escrow funding needs %s; top up the wallet and retry",
			e.address.Hex(), FromWei(balance), totalValue)
	}

	data, err := e.abi.Pack("createAgreement",
		common.HexToAddress(developerAddress), projectName, documentHash,
		big.NewInt(start.Unix()), big.NewInt(end.Unix()))
	if err != nil {
		return "", WrapError(KindUnknown, err, "failed to encode createAgreement call")
	}

	return e.send(ctx, data, value)
}

func (e *EthClient) RequestChange(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error) {
	data, err := e.abi.Pack("requestChange", new(big.Int).SetUint64(onChainID), description)
	if err != nil {
		return "", WrapError(KindUnknown, err, "failed to encode requestChange call")
	}
	return e.send(ctx, data, ToWei(additionalCost))
}

func (e *EthClient) CompleteAgreement(ctx context.Context, onChainID uint64) (string, error) {
	data, err := e.abi.Pack("completeAgreement", new(big.Int).SetUint64(onChainID))
	if err != nil {
		return "", WrapError(KindUnknown, err, "failed to encode completeAgreement call")
	}
	return e.send(ctx, data, new(big.Int))
}

func (e *EthClient) GetAgreementSummary(ctx context.Context, onChainID uint64) (*Summary, error) {
	data, err := e.abi.Pack("getAgreement", new(big.Int).SetUint64(onChainID))
	if err != nil {
		return nil, WrapError(KindUnknown, err, "failed to encode getAgreement call")
	}

	out, err := e.rpc.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
	if err != nil {
		return nil, WrapError(classify(err, KindRPC), err, "getAgreement(%d) call failed", onChainID)
	}

	vals, err := e.abi.Unpack("getAgreement", out)
	if err != nil || len(vals) != 5 {
		return nil, WrapError(KindUnknown, err, "failed to decode getAgreement(%d) result", onChainID)
	}

	return &Summary{
		Client:        vals[0].(common.Address).Hex(),
		Developer:     vals[1].(common.Address).Hex(),
		TotalValue:    FromWei(vals[2].(*big.Int)),
		EscrowBalance: FromWei(vals[3].(*big.Int)),
		Status:        Status(vals[4].(uint8)),
	}, nil
}

func (e *EthClient) GetTransactionDetails(ctx context.Context, hash string) (*TxDetails, error) {
	h := common.HexToHash(hash)
	tx, pending, err := e.rpc.TransactionByHash(ctx, h)
	if err != nil {
		return nil, WrapError(classify(err, KindRPC), err, "transaction %s not found", hash)
	}

	from, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return nil, WrapError(KindUnknown, err, "failed to recover sender of %s", hash)
	}

	details := &TxDetails{
		Hash:     tx.Hash().Hex(),
		From:     from.Hex(),
		Value:    FromWei(tx.Value()),
		GasPrice: FromWei(tx.GasPrice()),
		Pending:  pending,
	}
	if to := tx.To(); to != nil {
		details.To = to.Hex()
	}
	if pending {
		return details, nil
	}

	receipt, err := e.rpc.TransactionReceipt(ctx, h)
	if err != nil {
		return nil, WrapError(classify(err, KindRPC), err, "failed to load receipt for %s", hash)
	}
	details.BlockNumber = receipt.BlockNumber.Uint64()
	details.Status = receipt.Status
	details.GasUsed = receipt.GasUsed

	header, err := e.rpc.HeaderByNumber(ctx, receipt.BlockNumber)
	if err == nil {
		details.Timestamp = time.Unix(int64(header.Time), 0).UTC()
	}
	return details, nil
}

func (e *EthClient) ConfirmedTransaction(ctx context.Context, hash string) (*Confirmation, error) {
	h := common.HexToHash(hash)
	receipt, err := e.rpc.TransactionReceipt(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, NewError(KindNotMined, "transaction %s not yet mined", hash)
		}
		return nil, WrapError(classify(err, KindRPC), err, "failed to load receipt for %s", hash)
	}

	conf := &Confirmation{
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if header, err := e.rpc.HeaderByNumber(ctx, receipt.BlockNumber); err == nil {
		conf.BlockTime = time.Unix(int64(header.Time), 0).UTC()
	}

	createdID := e.abi.Events["AgreementCreated"].ID
	for _, lg := range receipt.Logs {
		if len(lg.Topics) >= 2 && lg.Topics[0] == createdID && lg.Address == e.contract {
			id := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
			conf.AgreementID = &id
			break
		}
	}
	return conf, nil
}

func (e *EthClient) send(ctx context.Context, data []byte, value *big.Int) (string, error) {
	nonce, err := e.rpc.PendingNonceAt(ctx, e.address)
	if err != nil {
		return "", WrapError(classify(err, KindRPC), err, "failed to read account nonce")
	}

	gasPrice, err := e.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", WrapError(classify(err, KindRPC), err, "failed to read gas price")
	}

	gas, err := e.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.address,
		To:    &e.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", WrapError(classify(err, KindOnChainState), err, "contract rejected the call during gas estimation")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Value:    value,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return "", WrapError(KindWalletUnavailable, err, "failed to sign transaction")
	}

	if err := e.rpc.SendTransaction(ctx, signed); err != nil {
		return "", WrapError(classify(err, KindRPC), err, "failed to broadcast transaction")
	}
	return signed.Hash().Hex(), nil
}
