// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "loanetl/internal/storage/mssql"
	_ "loanetl/internal/storage/postgres"
	_ "loanetl/internal/storage/sqlite"
	_ "loanetl/internal/storage/xlsx"
)
