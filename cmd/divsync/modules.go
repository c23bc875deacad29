package main

// Compiled modules. Each registers itself with the core registry in init.
import (
	_ "github.com/flemzord/divsync/internal/gateway"
	_ "github.com/flemzord/divsync/modules/source/http"
	_ "github.com/flemzord/divsync/modules/store/badger"
	_ "github.com/flemzord/divsync/modules/store/memory"
	_ "github.com/flemzord/divsync/modules/store/postgres"
	_ "github.com/flemzord/divsync/modules/store/redis"
	_ "github.com/flemzord/divsync/modules/store/sqlite"
)
