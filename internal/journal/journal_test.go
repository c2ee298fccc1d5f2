package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/pkg/types"
)

func testOrder(id string) *types.Order {
	return &types.Order{
		ID:               id,
		UserID:           "A",
		Ticker:           "FOO",
		Side:             types.Buy,
		Price:            decimal.RequireFromString("100.00"),
		Quantity:         5,
		OriginalQuantity: 10,
		TIF:              types.GTC,
		CreatedAt:        1,
		Status:           types.StatusPartial,
	}
}

func testUser(id, cash string) *types.User {
	return &types.User{
		ID:       id,
		Username: id,
		Cash:     decimal.RequireFromString(cash),
		Holdings: map[string]int64{"FOO": 3},
	}
}

func TestCommitAppendsOneLinePerBatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j, err := Open(dir, false)
	require.NoError(t, err)

	require.NoError(t, j.Commit(PlaceBatch(testOrder("o1"), nil, nil, []*types.User{testUser("A", "100")})))
	require.NoError(t, j.Commit(CancelBatch(testOrder("o1"), testUser("A", "200"))))
	require.NoError(t, j.Close())

	f, err := os.Open(filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var batches []Batch
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var b Batch
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &b))
		batches = append(batches, b)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, batches, 2)
	assert.Equal(t, int64(1), batches[0].Seq)
	assert.Equal(t, int64(2), batches[1].Seq)
	assert.Equal(t, "place", batches[0].Kind)
	assert.Equal(t, "cancel", batches[1].Kind)
	require.NotNil(t, batches[0].Order)
	assert.Equal(t, "o1", batches[0].Order.OrderID)
	assert.Equal(t, int64(5), batches[0].Order.FilledQuantity, "filled = original - remaining")
	assert.False(t, batches[0].CommittedAt.IsZero())
}

func TestUserSnapshotSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	j, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, j.Commit(RegisterBatch(testUser("A", "100"))))
	require.NoError(t, j.Commit(RegisterBatch(testUser("B", "250"))))
	// A trades; its later snapshot must win.
	require.NoError(t, j.Commit(PlaceBatch(testOrder("o1"), nil, nil, []*types.User{testUser("A", "40")})))
	require.NoError(t, j.Close())

	j2, err := Open(dir, false)
	require.NoError(t, err)
	defer j2.Close()

	users := j2.Users()
	require.Len(t, users, 2)
	byID := make(map[string]*types.User)
	for _, u := range users {
		byID[u.ID] = u
	}
	assert.True(t, byID["A"].Cash.Equal(decimal.RequireFromString("40")))
	assert.True(t, byID["B"].Cash.Equal(decimal.RequireFromString("250")))
	assert.Equal(t, int64(3), byID["A"].Holdings["FOO"])
}

func TestReopenAppendsAfterExistingLog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	j, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, j.Commit(RegisterBatch(testUser("A", "100"))))
	require.NoError(t, j.Close())

	j2, err := Open(dir, true)
	require.NoError(t, err)
	require.NoError(t, j2.Commit(RegisterBatch(testUser("B", "100"))))
	require.NoError(t, j2.Close())

	data, err := os.ReadFile(filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, c := range data {
		if c == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines, "reopen must append, not truncate")
}

func TestRecordOrderShape(t *testing.T) {
	t.Parallel()
	rec := RecordOrder(testOrder("o9"))
	assert.Equal(t, "100", rec.Price)
	assert.Equal(t, int64(10), rec.OriginalQuantity)
	assert.Equal(t, int64(5), rec.FilledQuantity)
	assert.Equal(t, types.StatusPartial, rec.Status)
}
