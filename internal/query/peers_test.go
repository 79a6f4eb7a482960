package query

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParcelPeers(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(
		`WITH current_parcel AS`+
			`.*`+regexp.QuoteMeta(`ST_DWithin(ST_Transform(wkb_geometry, 3035), (SELECT geom FROM current_parcel), $2)`)+
			`.*`+regexp.QuoteMeta(`ST_Area(ST_Transform(wkb_geometry, 3035)) > 3000.0`)+
			`.*ORDER BY distance ASC\s+LIMIT \$3`).
		WithArgs("1042", 2000.0, 10).
		WillReturnRows(pgxmock.NewRows([]string{"pids", "distance"}).
			AddRow("1043", 120.5).
			AddRow("1077", 870.0))

	res, err := svc.ParcelPeers(context.Background(), testDataset(), "1042", 2000, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pids", "distance"}, res.Columns)
	assert.Equal(t, []string{"1043", "1077"}, res.Strings(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelPeers_Validation(t *testing.T) {
	svc, _ := newMockService(t)
	ds := testDataset()

	_, err := svc.ParcelPeers(context.Background(), ds, "1", -1, 10, "")
	assert.True(t, eris.Is(err, ErrInvalidArgument))
	_, err = svc.ParcelPeers(context.Background(), ds, "1", 100, 0, "")
	assert.True(t, eris.Is(err, ErrInvalidArgument))
	_, err = svc.ParcelPeers(context.Background(), ds, "", 100, 10, "")
	assert.True(t, eris.Is(err, ErrInvalidArgument))
}

func TestParseValueRange(t *testing.T) {
	tests := []struct {
		in      string
		want    ValueRange
		wantErr bool
	}{
		{in: "10-20", want: ValueRange{Min: 10, Max: 20, IsRange: true}},
		{in: "15", want: ValueRange{Min: 15, Max: 15}},
		{in: "0.25-0.5", want: ValueRange{Min: 0.25, Max: 0.5, IsRange: true}},
		{in: "-5", want: ValueRange{Min: -5, Max: -5}},
		{in: "-10--5", want: ValueRange{Min: -10, Max: -5, IsRange: true}},
		{in: "1e-3-2", want: ValueRange{Min: 0.001, Max: 2, IsRange: true}},
		{in: " 7 ", want: ValueRange{Min: 7, Max: 7}},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "20-10", wantErr: true},
		{in: "10-", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValueRange(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueRangePredicate(t *testing.T) {
	sql, args := ValueRange{Min: 10, Max: 20, IsRange: true}.predicate("s.mean", []any{"B04"})
	assert.Equal(t, "s.mean BETWEEN $2 AND $3", sql)
	assert.Equal(t, []any{"B04", 10.0, 20.0}, args)

	sql, args = ValueRange{Min: 15, Max: 15}.predicate("s.mean", []any{"B04"})
	assert.Equal(t, "s.mean = $2", sql)
	assert.Equal(t, []any{"B04", 15.0}, args)
}

func TestParcelStatsPeers_Range(t *testing.T) {
	svc, mock := newMockService(t)

	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 6, 30, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery(
		regexp.QuoteMeta(`s.band = $1`)+
			`.*`+regexp.QuoteMeta(`s.mean BETWEEN $2 AND $3`)+
			`.*`+regexp.QuoteMeta(`d.obstime BETWEEN $4 AND $5`)+
			`.*`+regexp.QuoteMeta(`LIMIT $6`)).
		WithArgs("B08", 0.3, 0.5, start, end, 100).
		WillReturnRows(pgxmock.NewRows([]string{"pids"}).AddRow("5").AddRow("8"))

	pids, err := svc.ParcelStatsPeers(context.Background(), testDataset(), StatsPeersOptions{
		StartDate: "2020-06-01",
		EndDate:   "2020-06-30",
		Band:      "B08",
		Stat:      "Mean",
		Value:     "0.3-0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "8"}, pids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelStatsPeers_ExactValue(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`s.p50 = $2`) + `.*` + regexp.QuoteMeta(`LIMIT $5`)).
		WithArgs("B04", 15.0, pgxmock.AnyArg(), pgxmock.AnyArg(), 5).
		WillReturnRows(pgxmock.NewRows([]string{"pids"}))

	pids, err := svc.ParcelStatsPeers(context.Background(), testDataset(), StatsPeersOptions{
		StartDate: "2020-06-01",
		EndDate:   "2020-06-01",
		Band:      "B04",
		Stat:      "p50",
		Value:     "15",
		MaxPeers:  5,
	})
	require.NoError(t, err)
	assert.Empty(t, pids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelStatsPeers_Validation(t *testing.T) {
	svc, _ := newMockService(t)
	ds := testDataset()
	base := StatsPeersOptions{StartDate: "2020-06-01", EndDate: "2020-06-30", Band: "B04", Stat: "mean", Value: "1"}

	bad := base
	bad.Stat = "mean; DROP TABLE x"
	_, err := svc.ParcelStatsPeers(context.Background(), ds, bad)
	assert.True(t, eris.Is(err, ErrInvalidArgument))

	bad = base
	bad.StartDate = "June"
	_, err = svc.ParcelStatsPeers(context.Background(), ds, bad)
	assert.True(t, eris.Is(err, ErrInvalidArgument))

	bad = base
	bad.Value = "x-y"
	_, err = svc.ParcelStatsPeers(context.Background(), ds, bad)
	assert.True(t, eris.Is(err, ErrInvalidArgument))

	bad = base
	bad.Band = ""
	_, err = svc.ParcelStatsPeers(context.Background(), ds, bad)
	assert.True(t, eris.Is(err, ErrInvalidArgument))
}
