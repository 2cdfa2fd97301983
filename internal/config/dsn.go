package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSNValue returns the explicit DSN when set, otherwise a MySQL DSN assembled
// from the discrete connection fields.
func (c DatabaseConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(orDefault(c.Host, defaultDBHost), strconv.Itoa(orDefaultInt(c.Port, defaultDBPort)))
	mc.DBName = orDefault(c.Name, defaultDBName)
	mc.ParseTime = c.ParseTime

	loc, err := time.LoadLocation(orDefault(c.Loc, defaultDBLoc))
	if err != nil {
		loc = time.Local
	}
	mc.Loc = loc

	mc.Params = map[string]string{"charset": orDefault(c.Charset, defaultDBCharset)}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

// RedisURL returns a go-redis compatible URL, or "" when Redis is disabled.
func (c RedisConfig) RedisURL() string {
	if v := strings.TrimSpace(c.URL); v != "" {
		return v
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	auth := ""
	if c.Password != "" {
		auth = ":" + c.Password + "@"
	}
	return "redis://" + auth + net.JoinHostPort(host, strconv.Itoa(orDefaultInt(c.Port, defaultRedisPort))) + "/" + strconv.Itoa(c.DB)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
