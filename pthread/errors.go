package pthread

import (
	"fmt"

	"github.com/caffeineduck/gorux/errno"
)

var (
	errClosed         = fmt.Errorf("manager closed: %w", errno.EAGAIN)
	errTooManyThreads = fmt.Errorf("thread limit reached: %w", errno.EAGAIN)
	errNoThread       = fmt.Errorf("no such thread: %w", errno.ESRCH)
	errNotManaged     = errno.Fatal("thread operation outside a managed thread")
	errMainExit       = errno.Fatal("pthread_exit called from the main thread")
)
