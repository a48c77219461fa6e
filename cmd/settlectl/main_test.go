package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/keeper"
	"github.com/caesar-terminal/settle/internal/rounds"
	"github.com/caesar-terminal/settle/internal/service"
)

const adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func startDaemon(t *testing.T) (string, *keeper.Gate) {
	t.Helper()
	h, err := host.New(dbm.NewMemDB())
	require.NoError(t, err)
	admin := operator(t)

	f := feed.New(service.DefaultFeed)
	engine := rounds.New(rounds.WithOracle(service.DefaultFeed, f))
	require.NoError(t, h.Execute(context.Background(), "genesis", admin, func(c *host.Ctx) error {
		if err := f.Init(c, admin, ""); err != nil {
			return err
		}
		return engine.Init(c, admin)
	}))

	dir, err := os.MkdirTemp("", "settlectl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	gate := keeper.NewGate(keeper.DefaultGateConfig(), nil)
	svc := service.New(h, []*feed.Feed{f}, engine, service.WithHalter(gate))
	srv, err := service.NewServer(service.ServerConfig{SocketPath: sock}, svc, nil)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(srv.GracefulStop)
	return "unix://" + sock, gate
}

func operator(t *testing.T) auth.Identity {
	k, err := auth.KeyRingFromHex(adminKey)
	require.NoError(t, err)
	defer k.Destroy()
	return k.Address()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI(t *testing.T) {
	target, _ := startDaemon(t)
	t.Setenv("SETTLE_SIGNER_KEY_HEX", adminKey)

	_, err := run(t, "--target", target, "asset", "upsert", "BTC", "--precision", "2", "--staleness", "3600")
	require.NoError(t, err)

	out, err := run(t, "--target", target, "price", "push", "BTC", "50000.125", "--precision", "2")
	require.NoError(t, err)
	var pushed service.Price
	require.NoError(t, json.Unmarshal([]byte(out), &pushed))
	require.Equal(t, "5000013", pushed.Price)
	require.Equal(t, "50000.13", pushed.Value)

	out, err = run(t, "--target", target, "price", "spot", "BTC", "--precision", "0")
	require.NoError(t, err)
	var spot service.Price
	require.NoError(t, json.Unmarshal([]byte(out), &spot))
	require.Equal(t, "50000", spot.Price)

	out, err = run(t, "--target", target, "round", "create", "BTC", "--lock-delay", "60", "--duration", "60")
	require.NoError(t, err)
	var r service.RoundResponse
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Equal(t, uint64(1), r.ID)

	_, err = run(t, "--target", target, "round", "join", "1", "up")
	require.NoError(t, err)

	out, err = run(t, "--target", target, "round", "get", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Equal(t, uint64(1), r.UpCount)

	out, err = run(t, "--target", target, "round", "joined", "1", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, err)
	var j service.JoinResponse
	require.NoError(t, json.Unmarshal([]byte(out), &j))
	require.True(t, j.Joined)
	require.Equal(t, "up", j.Side)

	_, err = run(t, "--target", target, "round", "lock", "1")
	require.Error(t, err, "join window still open")

	out, err = run(t, "--target", target, "key", "address")
	require.NoError(t, err)
	require.Contains(t, out, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
}

func TestCLI_KeeperSwitch(t *testing.T) {
	target, gate := startDaemon(t)
	t.Setenv("SETTLE_SIGNER_KEY_HEX", adminKey)

	out, err := run(t, "--target", target, "keeper", "halt", "--reason", "maintenance")
	require.NoError(t, err)
	var res service.KeeperResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Halted)
	require.True(t, gate.Halted())

	_, err = run(t, "--target", target, "keeper", "resume")
	require.NoError(t, err)
	require.False(t, gate.Halted())
}

func TestCLI_RejectsBadInput(t *testing.T) {
	t.Setenv("SETTLE_SIGNER_KEY_HEX", adminKey)
	_, err := run(t, "--target", "unix:///nonexistent", "price", "push", "BTC", "abc")
	require.Error(t, err)
	_, err = run(t, "--target", "unix:///nonexistent", "round", "get", "x")
	require.Error(t, err)
}

func TestCLI_SignedCommandNeedsKey(t *testing.T) {
	t.Setenv("SETTLE_SIGNER_KEY_HEX", "")
	t.Setenv("SETTLE_SIGNER_KEY_FILE", "")
	_, err := run(t, "--target", "unix:///nonexistent", "asset", "upsert", "BTC")
	require.ErrorContains(t, err, "no signing key")
}
