package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_OneRowPerStudent(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	dir.Remember("s-1", Contact{Name: "Arnold Perlstein", Email: "arnold@example.edu"})
	dir.Remember("s-1", Contact{Email: ""})

	c := &clock{now: t0.Add(time.Hour)}
	d := New(Options{Directory: dir, Now: c.Now})

	s1 := student("s-1", "c-1")
	require.NoError(t, d.Apply(ctx, joined(s1, t0)))
	require.NoError(t, d.Apply(ctx, joined(student("s-1", "c-2"), t0)))
	require.NoError(t, d.Apply(ctx, left(s1, t0.Add(20*time.Minute))))
	require.NoError(t, d.Apply(ctx, joined(student("s-2", "c-3"), t0.Add(5*time.Minute))))
	require.NoError(t, d.Mark(ctx, "math-101", "s-3", false, "t-1"))

	var buf bytes.Buffer
	require.NoError(t, d.Export(ctx, "math-101", &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Student ID", "Name", "Email", "Status", "Joined At", "Left At", "Duration"}, rows[0])

	assert.Equal(t, []string{"s-1", "Arnold Perlstein", "arnold@example.edu", "present", "2025-03-03T09:00:00Z", "", "1h0m0s"}, rows[1])
	assert.Equal(t, "Student s-2", rows[2][1])
	assert.Equal(t, "55m0s", rows[2][6])
	assert.Equal(t, []string{"s-3", "s-3", "", "absent", "", "", "0s"}, rows[3])
}

func TestExport_EmptySession(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{}).Export(context.Background(), "nobody", &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestExport_QuotesAndCommasRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New(Options{Now: (&clock{now: t0.Add(time.Hour)}).Now})

	rock := student("s-9", "c-9")
	rock.DisplayName = `Dwayne "The Rock", Jr.`
	require.NoError(t, d.Apply(ctx, joined(rock, t0)))
	comma := student("s-10", "c-10")
	comma.DisplayName = "Smith, John\nRoom 4"
	require.NoError(t, d.Apply(ctx, joined(comma, t0)))

	var buf bytes.Buffer
	require.NoError(t, d.Export(ctx, "math-101", &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	names := map[string]string{rows[1][0]: rows[1][1], rows[2][0]: rows[2][1]}
	assert.Equal(t, `Dwayne "The Rock", Jr.`, names["s-9"])
	assert.Equal(t, "Smith, John\nRoom 4", names["s-10"])
	for _, row := range rows {
		assert.Len(t, row, 7)
	}
}
