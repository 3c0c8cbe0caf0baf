package validators

import "go.mongodb.org/mongo-driver/bson"

var UserBalanceValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"user_id",
			"current_balance",
			"version",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"hospital_id": bson.M{
				"bsonType": "string",
			},

			"current_balance": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"total_earnings": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"total_withdrawals": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"version": bson.M{
				"bsonType": "long",
				"minimum":  1,
			},
		},
	},
}

var BalanceTransactionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"balance_id",
			"amount",
			"transaction_type",
			"balance_before",
			"balance_after",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"balance_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"amount": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"transaction_type": bson.M{
				"enum": []string{
					"payment_received",
					"service_charge",
					"refund_processed",
					"withdrawal",
					"adjustment",
				},
			},

			"reference_transaction_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"balance_before": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"balance_after": bson.M{
				"bsonType": []string{"double", "int", "long"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
