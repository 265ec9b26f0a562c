package redisstore

var BlockTimeout = blockTimeout
