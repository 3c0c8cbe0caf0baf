package validators

import "go.mongodb.org/mongo-driver/bson"

var BookingValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"hospital_id",
			"user_id",
			"resource_type",
			"status",
			"urgency",
			"patient_name",
			"patient_gender",
			"scheduled_date",
			"payment_status",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"hospital_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"resource_type": bson.M{
				"enum": []string{"beds", "icu", "operationTheatres"},
			},

			"status": bson.M{
				"enum": []string{"pending", "approved", "declined", "cancelled", "completed"},
			},

			"urgency": bson.M{
				"enum": []string{"low", "medium", "high", "critical"},
			},

			"patient_name": bson.M{
				"bsonType":  "string",
				"minLength": 2,
				"maxLength": 100,
			},

			"patient_gender": bson.M{
				"enum": []string{"male", "female", "other"},
			},

			"scheduled_date": bson.M{
				"bsonType": "date",
			},

			"estimated_duration_hours": bson.M{
				"bsonType": "int",
				"minimum":  1,
				"maximum":  168,
			},

			"payment_amount": bson.M{
				"bsonType": []string{"double", "int", "long"},
				"minimum":  0,
			},

			"payment_status": bson.M{
				"enum": []string{"unpaid", "pending", "paid", "refunded"},
			},

			"resources_allocated": bson.M{
				"bsonType": "int",
				"minimum":  1,
				"maximum":  50,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
