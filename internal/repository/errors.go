// Package repository holds the MySQL data access for the booking engine.
// Every counter the engine guards (seats, subscription usage, pass balances,
// coupon redemptions) is changed with a conditional UPDATE so that the row
// itself is the source of truth across server instances.
//
// Driver errors are classified here into the sentinels of package model so
// the layers above never inspect MySQL error numbers.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/studio-booking/internal/model"
)

// MySQL server error numbers the repositories react to.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// isDuplicate reports whether err is a duplicate-key violation, optionally
// restricted to the named unique index.
func isDuplicate(err error, index string) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != errDupEntry {
		return false
	}
	return index == "" || strings.Contains(me.Message, index)
}

// classify maps transient lock errors to ErrConcurrencyConflict and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == errDeadlock || me.Number == errLockWaitTimeout) {
		return model.ErrConcurrencyConflict
	}
	return err
}

// notFound translates sql.ErrNoRows into the given sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
