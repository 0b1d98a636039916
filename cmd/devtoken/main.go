// Command devtoken prints an access token for local testing against a
// server started with the same JWT_SECRET.
//
//	go run ./cmd/devtoken -member 7 -studio 1 -role STAFF
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/utils"
)

func main() {
	member := flag.Uint64("member", 1, "member id (sub claim)")
	studio := flag.Uint64("studio", 1, "studio id")
	role := flag.String("role", model.RoleMember, "MEMBER or STAFF")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	_ = godotenv.Load()
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	flag.Parse()

	tok, err := utils.NewAccessToken(*secret, model.Actor{
		MemberID: *member, StudioID: *studio, Role: strings.ToUpper(*role),
	}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
