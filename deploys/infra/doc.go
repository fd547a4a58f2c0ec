// Package infra contém implementações concretas para os contratos do pacote domain.
//
// Exemplos:
//   - RedisStore: uma chave Redis por target (github.com/redis/go-redis/v9)
//   - FileStore: o pool inteiro em um documento JSON, reescrito a cada mutação
//   - ManifestPool / LoadManifest: composição do pool e credenciais via secrets.yml
//   - Throttle: token bucket por chave usando golang.org/x/time/rate
package infra
