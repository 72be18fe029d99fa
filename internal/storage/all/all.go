// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "fhiretl/internal/storage/mssql"
	_ "fhiretl/internal/storage/postgres"
	_ "fhiretl/internal/storage/sqlite"
)
