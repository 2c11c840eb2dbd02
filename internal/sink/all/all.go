// Package all registers every sink backend via blank imports. Commands import
// it for side effects so sink.New can resolve any configured kind.
package all

import (
	_ "marketstats/internal/sink/mssql"
	_ "marketstats/internal/sink/postgres"
	_ "marketstats/internal/sink/sqlite"
	_ "marketstats/internal/sink/workbook"
)
