package node

import (
	"errors"
	"fmt"
)

// BlockchainInfo is the result of `getblockchaininfo`.
//
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	Difficulty           float64 `json:"difficulty"`
	MedianTime           int64   `json:"mediantime"`
	VerificationProgress float64 `json:"verificationprogress"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	SizeOnDisk           uint64  `json:"size_on_disk"`
	Pruned               bool    `json:"pruned"`
}

func (r *BlockchainInfo) Validate() error {
	if r.Chain == "" {
		return errors.New("missing chain")
	}

	if r.Blocks < 0 {
		return fmt.Errorf("negative block count %d", r.Blocks)
	}

	return nil
}

// MempoolInfo is the result of `getmempoolinfo`.
//
type MempoolInfo struct {
	Loaded              bool    `json:"loaded"`
	Size                int64   `json:"size"`
	Bytes               int64   `json:"bytes"`
	Usage               int64   `json:"usage"`
	TotalFee            float64 `json:"total_fee"`
	MaxMempool          int64   `json:"maxmempool"`
	MempoolMinFee       float64 `json:"mempoolminfee"`
	MinRelayTxFee       float64 `json:"minrelaytxfee"`
	IncrementalRelayFee float64 `json:"incrementalrelayfee"`
	UnbroadcastCount    int64   `json:"unbroadcastcount"`
	FullRBF             bool    `json:"fullrbf"`
}

func (r *MempoolInfo) Validate() error {
	if r.MaxMempool <= 0 {
		return errors.New("missing maxmempool")
	}

	return nil
}

// NetworkInfo is the result of `getnetworkinfo`.
//
type NetworkInfo struct {
	Version         int64   `json:"version"`
	Subversion      string  `json:"subversion"`
	ProtocolVersion int64   `json:"protocolversion"`
	TimeOffset      int64   `json:"timeoffset"`
	Connections     int64   `json:"connections"`
	ConnectionsIn   int64   `json:"connections_in"`
	ConnectionsOut  int64   `json:"connections_out"`
	NetworkActive   bool    `json:"networkactive"`
	RelayFee        float64 `json:"relayfee"`
	IncrementalFee  float64 `json:"incrementalfee"`
}

func (r *NetworkInfo) Validate() error {
	if r.Version <= 0 {
		return errors.New("missing version")
	}

	return nil
}

// Peer is one entry of `getpeerinfo`.
//
type Peer struct {
	ID             int64    `json:"id"`
	Addr           string   `json:"addr"`
	Network        string   `json:"network"`
	Inbound        bool     `json:"inbound"`
	ConnectionType string   `json:"connection_type"`
	BytesSent      uint64   `json:"bytessent"`
	BytesRecv      uint64   `json:"bytesrecv"`
	PingTime       *float64 `json:"pingtime"`
}

// PeerInfo is the result of `getpeerinfo`.
//
type PeerInfo []Peer

// MiningInfo is the result of `getmininginfo`.
//
// `networkhashps` is a float on mainnet (e.g. `6.2e+20`), so it must not be
// decoded into an integer.
//
type MiningInfo struct {
	Blocks        int64   `json:"blocks"`
	Difficulty    float64 `json:"difficulty"`
	NetworkHashPS float64 `json:"networkhashps"`
	PooledTx      int64   `json:"pooledtx"`
	Chain         string  `json:"chain"`
}

// ChainTxStats is the result of `getchaintxstats`.
//
type ChainTxStats struct {
	Time                   int64    `json:"time"`
	TxCount                int64    `json:"txcount"`
	WindowFinalBlockHeight int64    `json:"window_final_block_height"`
	WindowBlockCount       int64    `json:"window_block_count"`
	WindowTxCount          *int64   `json:"window_tx_count"`
	WindowInterval         *int64   `json:"window_interval"`
	TxRate                 *float64 `json:"txrate"`
}

// NetTotals is the result of `getnettotals`.
//
type NetTotals struct {
	TotalBytesRecv uint64 `json:"totalbytesrecv"`
	TotalBytesSent uint64 `json:"totalbytessent"`
	TimeMillis     int64  `json:"timemillis"`
}

func (r *NetTotals) Validate() error {
	if r.TimeMillis <= 0 {
		return errors.New("missing timemillis")
	}

	return nil
}

// SmartFeeEstimate is the result of `estimatesmartfee`.
//
// FeeRate is nil whenever the node doesn't have enough data to estimate,
// in which case Errors says why.
//
type SmartFeeEstimate struct {
	FeeRate *float64 `json:"feerate"`
	Errors  []string `json:"errors"`
	Blocks  int64    `json:"blocks"`
}

// ChainTip is one entry of `getchaintips`.
//
type ChainTip struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	BranchLen int64  `json:"branchlen"`
	Status    string `json:"status"`
}

// ChainTips is the result of `getchaintips`.
//
type ChainTips []ChainTip

func (r *ChainTips) Validate() error {
	for _, tip := range *r {
		if tip.Status == "active" {
			return nil
		}
	}

	return errors.New("no active tip")
}

// Uptime is the result of `uptime`, in seconds.
//
type Uptime int64

// BlockStats is the result of `getblockstats`.
//
//
// Amounts are in satoshis and fee rates in sat/vB.
//
type BlockStats struct {
	Height             int64   `json:"height"`
	BlockHash          string  `json:"blockhash"`
	Txs                int64   `json:"txs"`
	Ins                int64   `json:"ins"`
	Outs               int64   `json:"outs"`
	TotalOut           int64   `json:"total_out"`
	TotalSize          int64   `json:"total_size"`
	TotalWeight        int64   `json:"total_weight"`
	TotalFee           int64   `json:"totalfee"`
	Subsidy            int64   `json:"subsidy"`
	AvgFee             int64   `json:"avgfee"`
	MedianFee          int64   `json:"medianfee"`
	MinFee             int64   `json:"minfee"`
	MaxFee             int64   `json:"maxfee"`
	AvgFeeRate         int64   `json:"avgfeerate"`
	MinFeeRate         int64   `json:"minfeerate"`
	MaxFeeRate         int64   `json:"maxfeerate"`
	FeeRatePercentiles []int64 `json:"feerate_percentiles"`
	SegwitTxs          int64   `json:"swtxs"`
	SegwitTotalSize    int64   `json:"swtotal_size"`
	SegwitTotalWeight  int64   `json:"swtotal_weight"`
	UTXOIncrease       int64   `json:"utxo_increase"`
}

func (r *BlockStats) Validate() error {
	if len(r.FeeRatePercentiles) != 5 {
		return fmt.Errorf("expected 5 feerate percentiles, got %d",
			len(r.FeeRatePercentiles))
	}

	return nil
}

// RPCCommand is one of the commands the node is executing, as reported by
// `getrpcinfo`.
//
type RPCCommand struct {
	Method string `json:"method"`

	// Duration is in microseconds.
	//
	Duration int64 `json:"duration"`
}

// RPCInfo is the result of `getrpcinfo`.
//
type RPCInfo struct {
	ActiveCommands []RPCCommand `json:"active_commands"`
	LogPath        string       `json:"logpath"`
}
