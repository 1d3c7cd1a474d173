package common

import "fmt"

var (
	// Account keys
	accountPrefix string = "account"
	accountLock   string = "account:lock:%s" // accountId
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Account keys
func (rk *redisKeys) AccountPrefix() string {
	return accountPrefix
}

func (rk *redisKeys) AccountLock(accountId string) string {
	return fmt.Sprintf(accountLock, accountId)
}
