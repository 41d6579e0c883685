package solana

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRPCURL(t *testing.T) {
	tests := []struct {
		network string
		want    string
		wantErr bool
	}{
		{network: NetworkMainnet, want: rpc.MainNetBeta_RPC},
		{network: NetworkDevnet, want: rpc.DevNet_RPC},
		{network: NetworkTestnet, want: rpc.TestNet_RPC},
		{network: "localnet", wantErr: true},
		{network: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			got, err := DefaultRPCURL(tt.network)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(solana.NewWallet().PublicKey().String()))
	assert.NoError(t, ValidateAddress(solana.SystemProgramID.String()))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress("0OIl-not-base58"))
	assert.Error(t, ValidateAddress("abc"))
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		rpc.MainNetBeta_RPC: "mainnet",
		rpc.DevNet_RPC:      "devnet",
		rpc.TestNet_RPC:     "testnet",
		"https://mainnet.helius-rpc.com/?api-key=secret":    "helius",
		"https://example.solana-mainnet.quiknode.pro/abc/":  "quiknode",
		"http://localhost:8899":                             "localhost",
		"not a url":                                         "unknown",
	}

	for rpcURL, want := range tests {
		t.Run(rpcURL, func(t *testing.T) {
			assert.Equal(t, want, EndpointLabel(rpcURL))
		})
	}
}
