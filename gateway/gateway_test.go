package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/host"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/metrics"
	"github.com/ruteri/template-gateway/state"
	"github.com/ruteri/template-gateway/templates/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	user   = common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	other  = common.HexToAddress("0x0000000000000000000000000000000000ca2070")
	pauper = common.HexToAddress("0x0000000000000000000000000000000000000b0e")
)

// startingBalance is held by user and other in every test world.
var startingBalance = big.NewInt(1_000_000)

// recordingSink keeps every delivered record.
type recordingSink struct {
	mu      sync.Mutex
	records []interfaces.Record
	err     error
}

func (s *recordingSink) Append(_ context.Context, records []interfaces.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return s.err
}

func (s *recordingSink) Records() []interfaces.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.Record(nil), s.records...)
}

type testGateway struct {
	*Gateway
	t         *testing.T
	host      *host.Host
	sink      *recordingSink
	signerKey *ecdsa.PrivateKey
	signer    common.Address
	widgetV1  common.Address
	widgetV11 common.Address
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway returns an uninitialized gateway with both widget versions
// deployed on its host but not registered.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	logger := testLogger()
	h := host.New(host.DefaultDeployer, host.DefaultCosts, logger)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tg := &testGateway{
		t:         t,
		host:      h,
		sink:      &recordingSink{},
		signerKey: key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
		widgetV1:  h.Deploy(widget.New(widget.V1_0_0)),
		widgetV11: h.Deploy(widget.New(widget.V1_1_0)),
	}
	world := state.NewWorld()
	world.Credit(user, startingBalance)
	world.Credit(other, startingBalance)
	tg.Gateway = New(Config{
		Log:   logger,
		Sinks: []interfaces.RecordSink{tg.sink},
	}, state.NewStore(world), h)
	return tg
}

// newReadyGateway returns an initialized gateway with widget 1.0.0 registered.
func newReadyGateway(t *testing.T) *testGateway {
	tg := newTestGateway(t)
	tg.must(tg.Initialize(context.Background(), interfaces.NewMsg(user), owner, tg.signer))
	tg.must(tg.RegisterTemplate(context.Background(), interfaces.NewMsg(owner), tg.widgetV1))
	return tg
}

func (tg *testGateway) must(receipt *interfaces.Receipt, err error) *interfaces.Receipt {
	tg.t.Helper()
	require.NoError(tg.t, err)
	require.NotNil(tg.t, receipt)
	return receipt
}

func (tg *testGateway) sign(payload []byte) []byte {
	tg.t.Helper()
	sig, err := cryptoutils.Sign(payload, tg.signerKey)
	require.NoError(tg.t, err)
	return sig
}

// deploy creates a widget instance operated by from.
func (tg *testGateway) deploy(from common.Address, label string) common.Address {
	tg.t.Helper()
	receipt := tg.must(tg.DeployByFee(context.Background(), interfaces.NewMsg(from).WithValue(tg.DeploymentFee().Int64()), widget.Name, widget.MustPack("initialize", label)))
	return receipt.Instance
}

func (tg *testGateway) queryUint(instance common.Address, method string) *big.Int {
	tg.t.Helper()
	ret, err := tg.Query(context.Background(), instance, widget.MustPack(method))
	require.NoError(tg.t, err)
	out, err := widget.Unpack(method, ret)
	require.NoError(tg.t, err)
	return out[0].(*big.Int)
}

func TestInitialize(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	assert.False(t, tg.Initialized())

	_, err := tg.Initialize(ctx, interfaces.NewMsg(user), common.Address{}, tg.signer)
	assert.ErrorIs(t, err, interfaces.ErrZeroAddress)
	_, err = tg.Initialize(ctx, interfaces.NewMsg(user), owner, common.Address{})
	assert.ErrorIs(t, err, interfaces.ErrZeroAddress)

	receipt := tg.must(tg.Initialize(ctx, interfaces.NewMsg(user), owner, tg.signer))
	require.Len(t, receipt.Records, 3)
	assert.Equal(t, interfaces.Initialized, receipt.Records[0].Type)
	assert.Equal(t, interfaces.Record{Seq: receipt.Seq, Index: 1, Type: interfaces.RoleGranted, Role: access.AdminRole, Account: owner}, receipt.Records[1])
	assert.Equal(t, interfaces.Record{Seq: receipt.Seq, Index: 2, Type: interfaces.RoleGranted, Role: access.SignerRole, Account: tg.signer}, receipt.Records[2])

	assert.True(t, tg.Initialized())
	assert.True(t, tg.HasRole(access.AdminRole, owner))
	assert.True(t, tg.HasRole(access.SignerRole, tg.signer))
	assert.False(t, tg.HasRole(access.AdminRole, user))

	_, err = tg.Initialize(ctx, interfaces.NewMsg(other), other, other)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)
	assert.False(t, tg.HasRole(access.AdminRole, other))
}

func TestExecute_Payment(t *testing.T) {
	tg := newReadyGateway(t)
	ctx := context.Background()

	_, err := tg.SetCallFee(ctx, interfaces.NewMsg(owner).WithValue(1), big.NewInt(5))
	assert.ErrorIs(t, err, interfaces.ErrUnexpectedPayment)
	assert.Zero(t, tg.CallFee().Sign())
	assert.Zero(t, tg.BalanceOf(tg.Address()).Sign())

	_, err = tg.DeployByFee(ctx, interfaces.NewMsg(user).WithValue(-1), widget.Name, widget.MustPack("initialize", "x"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidAmount)
	assert.Empty(t, tg.Instances())

	// A nil value is no payment.
	tg.must(tg.DeployByFee(ctx, interfaces.Msg{From: user}, widget.Name, widget.MustPack("initialize", "x")))

	// Attached payment leaves the caller's balance.
	tg.must(tg.DeployByFee(ctx, interfaces.NewMsg(user).WithValue(40), widget.Name, widget.MustPack("initialize", "y")))
	assert.Equal(t, new(big.Int).Sub(startingBalance, big.NewInt(40)), tg.BalanceOf(user))
	assert.Equal(t, big.NewInt(40), tg.BalanceOf(tg.Address()))
}

func TestExecute_PaymentRequiresBalance(t *testing.T) {
	tg := newReadyGateway(t)
	ctx := context.Background()
	tg.must(tg.SetDeploymentFee(ctx, interfaces.NewMsg(owner), big.NewInt(100)))
	recorded := len(tg.sink.Records())

	_, err := tg.DeployByFee(ctx, interfaces.NewMsg(pauper).WithValue(1_000_000), widget.Name, widget.MustPack("initialize", "free"))
	var payErr *interfaces.PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, interfaces.Insufficient, payErr.Kind)
	assert.Equal(t, "1000000", payErr.Attached)
	assert.Equal(t, "0", payErr.Balance)

	assert.Empty(t, tg.Instances())
	assert.Zero(t, tg.BalanceOf(pauper).Sign())
	assert.Zero(t, tg.BalanceOf(tg.Address()).Sign())
	assert.Len(t, tg.sink.Records(), recorded)

	_, err = tg.WithdrawFees(ctx, interfaces.NewMsg(owner), owner)
	assert.ErrorIs(t, err, interfaces.ErrNoFunds)

	// A partially funded caller cannot attach more than it holds either.
	tg.must(tg.Fund(ctx, interfaces.NewMsg(owner), pauper, big.NewInt(99)))
	_, err = tg.CallByFee(ctx, interfaces.NewMsg(pauper).WithValue(100), tg.deploy(user, "target"), widget.MustPack("increment", big.NewInt(1)))
	assert.ErrorIs(t, err, interfaces.ErrInsufficientPayment)
	assert.Equal(t, big.NewInt(99), tg.BalanceOf(pauper))
}

func TestExecute_RecordsDeliveredInCommitOrder(t *testing.T) {
	tg := newReadyGateway(t)
	ctx := context.Background()

	instance := tg.deploy(user, "ordered")
	tg.must(tg.SetWhitelisted(ctx, interfaces.NewMsg(owner), instance, false))
	_, err := tg.SetWhitelisted(ctx, interfaces.NewMsg(user), instance, true)
	require.ErrorIs(t, err, interfaces.ErrMissingRole)
	tg.must(tg.SetCallFee(ctx, interfaces.NewMsg(owner), big.NewInt(3)))

	records := tg.sink.Records()
	types := make([]interfaces.RecordType, 0, len(records))
	for i, r := range records {
		types = append(types, r.Type)
		if i > 0 {
			prev := records[i-1]
			assert.True(t, r.Seq > prev.Seq || (r.Seq == prev.Seq && r.Index == prev.Index+1), "record %d out of order", i)
		}
	}
	assert.Equal(t, []interfaces.RecordType{
		interfaces.Initialized, interfaces.RoleGranted, interfaces.RoleGranted,
		interfaces.TemplateAdded,
		interfaces.TemplateDeployed,
		interfaces.WhitelistChanged,
		interfaces.FeeChanged,
	}, types)
}

func TestExecute_SinkFailureDoesNotAbort(t *testing.T) {
	tg := newReadyGateway(t)
	tg.sink.err = errors.New("sink down")

	instance := tg.deploy(user, "kept")
	assert.True(t, tg.IsWhitelisted(instance))
	assert.Len(t, tg.Instances(), 1)
}

func TestExecute_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewGatewayMetrics("test", reg)
	require.NoError(t, err)

	tg := newTestGateway(t)
	tg.metrics = m
	ctx := context.Background()

	tg.must(tg.Initialize(ctx, interfaces.NewMsg(user), owner, tg.signer))
	_, err = tg.Initialize(ctx, interfaces.NewMsg(user), owner, tg.signer)
	require.Error(t, err)
	tg.must(tg.RegisterTemplate(ctx, interfaces.NewMsg(owner), tg.widgetV1))
	instance := tg.deploy(user, "metered")
	_, err = tg.CallByFee(ctx, interfaces.NewMsg(user), instance, widget.MustPack("fail", "no"))
	require.Error(t, err)

	expected := `
# HELP test_gateway_actions_total Gateway actions by entry point and outcome.
# TYPE test_gateway_actions_total counter
test_gateway_actions_total{action="call_by_fee",outcome="reverted"} 1
test_gateway_actions_total{action="deploy_by_fee",outcome="committed"} 1
test_gateway_actions_total{action="initialize",outcome="committed"} 1
test_gateway_actions_total{action="initialize",outcome="rejected"} 1
test_gateway_actions_total{action="register_template",outcome="committed"} 1
# HELP test_gateway_records_total Audit records emitted by committed actions.
# TYPE test_gateway_records_total counter
test_gateway_records_total{type="Initialized"} 1
test_gateway_records_total{type="RoleGranted"} 2
test_gateway_records_total{type="TemplateAdded"} 1
test_gateway_records_total{type="TemplateDeployed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_gateway_actions_total", "test_gateway_records_total"))
}

func TestExecute_ConcurrentDeploys(t *testing.T) {
	tg := newReadyGateway(t)

	const workers = 16
	var wg sync.WaitGroup
	receipts := make([]*interfaces.Receipt, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = tg.DeployByFee(context.Background(), interfaces.NewMsg(user), widget.Name, widget.MustPack("initialize", "parallel"))
		}(i)
	}
	wg.Wait()

	seqs := map[uint64]bool{}
	instances := map[common.Address]bool{}
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seqs[receipts[i].Seq], "sequence reused")
		assert.False(t, instances[receipts[i].Instance], "instance reused")
		seqs[receipts[i].Seq] = true
		instances[receipts[i].Instance] = true
	}
	assert.Len(t, tg.Instances(), workers)
	assert.Len(t, tg.sink.Records(), 4+workers)
}

func TestExecute_CancelledContext(t *testing.T) {
	tg := newReadyGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tg.DeployByFee(ctx, interfaces.NewMsg(user), widget.Name, widget.MustPack("initialize", "late"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tg.Instances())
}
